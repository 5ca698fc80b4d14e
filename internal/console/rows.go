package console

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/render"
)

// RowsPayload is the JSON shape of /api/detections and its stream.
type RowsPayload struct {
	Columns []string     `json:"columns"`
	Rows    []render.Row `json:"rows"`
	Version uint64       `json:"version"`
}

// RowStore is the single detections table. Each Replace bumps the version and
// pushes the new row set to stream subscribers.
type RowStore struct {
	mu      sync.RWMutex
	rows    []render.Row
	version uint64
	events  *EventBroadcaster
	log     *logger.Logger
}

// NewRowStore creates an empty table.
func NewRowStore(log *logger.Logger) *RowStore {
	if log == nil {
		log = logger.For("RowStore")
	}
	return &RowStore{
		rows:   []render.Row{},
		events: NewEventBroadcaster("RowStream", log),
		log:    log,
	}
}

// Replace implements render.Table.
func (s *RowStore) Replace(rows []render.Row) {
	cp := make([]render.Row, len(rows))
	copy(cp, rows)

	s.mu.Lock()
	s.rows = cp
	s.version++
	payload := RowsPayload{Columns: render.Columns, Rows: cp, Version: s.version}
	s.mu.Unlock()

	event, err := serializeRows(payload)
	if err != nil {
		s.log.Errorf("serialize rows v%d: %v", payload.Version, err)
		return
	}
	s.events.Publish(event)
}

// Snapshot returns the current table.
func (s *RowStore) Snapshot() RowsPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return RowsPayload{Columns: render.Columns, Rows: s.rows, Version: s.version}
}

// Events exposes the row stream.
func (s *RowStore) Events() *EventBroadcaster {
	return s.events
}

// serializeRows encodes payload as JSON and as a base64 protobuf Struct with
// the same field names.
func serializeRows(payload RowsPayload) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	st := &structpb.Struct{}
	if err := protojson.Unmarshal(jsonData, st); err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, err
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
