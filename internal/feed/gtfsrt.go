package feed

import (
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"

	"github.com/langchou/tripgazer/internal/models"
)

func ptr[T any](v T) *T { return &v }

// VehiclePositions 把在线行程的实时位置转成 GTFS-Realtime 全量数据
func VehiclePositions(locs []models.LiveLocation, at time.Time) *gtfs.FeedMessage {
	entities := make([]*gtfs.FeedEntity, 0, len(locs))
	for _, loc := range locs {
		entities = append(entities, &gtfs.FeedEntity{
			Id: ptr(loc.TripID),
			Vehicle: &gtfs.VehiclePosition{
				Trip:    &gtfs.TripDescriptor{TripId: ptr(loc.TripID)},
				Vehicle: &gtfs.VehicleDescriptor{Id: ptr(loc.VehicleID)},
				Position: &gtfs.Position{
					Latitude:  ptr(float32(loc.Lat)),
					Longitude: ptr(float32(loc.Lng)),
					Bearing:   ptr(float32(loc.Heading)),
					// GTFS-RT 速度单位为 m/s
					Speed: ptr(float32(loc.Speed * 1000 / 3600)),
				},
				CurrentStopSequence: ptr(uint32(loc.NextStopIndex)),
				Timestamp:           ptr(uint64(loc.LastUpdate.Unix())),
			},
		})
	}

	return &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: ptr("2.0"),
			Incrementality:      ptr(gtfs.FeedHeader_FULL_DATASET),
			Timestamp:           ptr(uint64(at.Unix())),
		},
		Entity: entities,
	}
}

// Marshal 编码为 protobuf，humanReadable 时输出文本格式便于调试
func Marshal(m proto.Message, humanReadable bool) ([]byte, error) {
	if humanReadable {
		return prototext.MarshalOptions{Multiline: true}.Marshal(m)
	}
	return proto.Marshal(m)
}
