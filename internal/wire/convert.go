package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// ErrPayloadNotObject is returned when a record payload is not a JSON object
// and so has no google.protobuf.Struct form.
var ErrPayloadNotObject = errors.New("payload is not a JSON object")

func field(m protoreflect.Message, name protoreflect.Name) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(name)
	if fd == nil {
		panic(fmt.Sprintf("wire: %s has no field %s", m.Descriptor().FullName(), name))
	}
	return fd
}

func setString(m protoreflect.Message, name protoreflect.Name, v string) {
	if v != "" {
		m.Set(field(m, name), protoreflect.ValueOfString(v))
	}
}

func setInt64(m protoreflect.Message, name protoreflect.Name, v int64) {
	if v != 0 {
		m.Set(field(m, name), protoreflect.ValueOfInt64(v))
	}
}

func setBool(m protoreflect.Message, name protoreflect.Name, v bool) {
	if v {
		m.Set(field(m, name), protoreflect.ValueOfBool(v))
	}
}

func getString(m protoreflect.Message, name protoreflect.Name) string {
	return m.Get(field(m, name)).String()
}

func getInt64(m protoreflect.Message, name protoreflect.Name) int64 {
	return m.Get(field(m, name)).Int()
}

func getBool(m protoreflect.Message, name protoreflect.Name) bool {
	return m.Get(field(m, name)).Bool()
}

// setKnown stores a well-known type into a field of a dynamic message. The
// value is copied through its wire form so it lands in the field's own
// message implementation.
func setKnown(m protoreflect.Message, name protoreflect.Name, v proto.Message) error {
	fd := field(m, name)
	raw, err := proto.Marshal(v)
	if err != nil {
		return err
	}
	sub := m.NewField(fd).Message()
	if err := proto.Unmarshal(raw, sub.Interface()); err != nil {
		return err
	}
	m.Set(fd, protoreflect.ValueOfMessage(sub))
	return nil
}

// getKnown reads a well-known type out of a field; false when unset.
func getKnown(m protoreflect.Message, name protoreflect.Name, dst proto.Message) (bool, error) {
	fd := field(m, name)
	if !m.Has(fd) {
		return false, nil
	}
	raw, err := proto.Marshal(m.Get(fd).Message().Interface())
	if err != nil {
		return false, err
	}
	return true, proto.Unmarshal(raw, dst)
}

func setTime(m protoreflect.Message, name protoreflect.Name, t time.Time) error {
	if t.IsZero() {
		return nil
	}
	return setKnown(m, name, timestamppb.New(t))
}

func getTime(m protoreflect.Message, name protoreflect.Name) (time.Time, error) {
	ts := &timestamppb.Timestamp{}
	ok, err := getKnown(m, name, ts)
	if err != nil || !ok {
		return time.Time{}, err
	}
	if err := ts.CheckValid(); err != nil {
		return time.Time{}, err
	}
	return ts.AsTime().UTC(), nil
}

// payloadStruct converts a JSON object payload. Numbers become doubles, as
// google.protobuf.Value has no integer kind.
func payloadStruct(p json.RawMessage) (*structpb.Struct, error) {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPayloadNotObject, err)
	}
	if fields == nil {
		return nil, nil
	}
	return structpb.NewStruct(fields)
}

func structPayload(s *structpb.Struct) (json.RawMessage, error) {
	return json.Marshal(s.AsMap())
}

func (r Record) toProto() (*dynamicpb.Message, error) {
	m := dynamicpb.NewMessage(recordDesc)
	setString(m, "entity_type", r.EntityType)
	setString(m, "id", r.ID)
	if len(r.Payload) > 0 {
		s, err := payloadStruct(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("record %s/%s: %w", r.EntityType, r.ID, err)
		}
		if s != nil {
			if err := setKnown(m, "payload", s); err != nil {
				return nil, err
			}
		}
	}
	if err := setTime(m, "updated_at", r.UpdatedAt); err != nil {
		return nil, err
	}
	setBool(m, "deleted", r.Deleted)
	setInt64(m, "version", r.Version)
	setString(m, "origin", r.Origin)
	return m, nil
}

func recordFromProto(m protoreflect.Message) (Record, error) {
	r := Record{
		EntityType: getString(m, "entity_type"),
		ID:         getString(m, "id"),
		Deleted:    getBool(m, "deleted"),
		Version:    getInt64(m, "version"),
		Origin:     getString(m, "origin"),
	}
	s := &structpb.Struct{}
	ok, err := getKnown(m, "payload", s)
	if err != nil {
		return Record{}, err
	}
	if ok {
		if r.Payload, err = structPayload(s); err != nil {
			return Record{}, err
		}
	}
	if r.UpdatedAt, err = getTime(m, "updated_at"); err != nil {
		return Record{}, err
	}
	return r, nil
}

func setRecord(m protoreflect.Message, name protoreflect.Name, r Record) error {
	rm, err := r.toProto()
	if err != nil {
		return err
	}
	m.Set(field(m, name), protoreflect.ValueOfMessage(rm))
	return nil
}

func (*PingRequest) toProto() (proto.Message, error) {
	return dynamicpb.NewMessage(pingRequestDesc), nil
}

func pingRequestFromProto(protoreflect.Message) (*PingRequest, error) {
	return &PingRequest{}, nil
}

func (p *PingResponse) toProto() (proto.Message, error) {
	m := dynamicpb.NewMessage(pingResponseDesc)
	setString(m, "status", p.Status)
	if err := setTime(m, "server_time", p.ServerTime); err != nil {
		return nil, err
	}
	return m, nil
}

func pingResponseFromProto(m protoreflect.Message) (*PingResponse, error) {
	at, err := getTime(m, "server_time")
	if err != nil {
		return nil, err
	}
	return &PingResponse{Status: getString(m, "status"), ServerTime: at}, nil
}

func (p *PushRequest) toProto() (proto.Message, error) {
	m := dynamicpb.NewMessage(pushRequestDesc)
	if err := setRecord(m, "record", p.Record); err != nil {
		return nil, err
	}
	setInt64(m, "revision", p.Revision)
	setInt64(m, "base_version", p.BaseVersion)
	return m, nil
}

func pushRequestFromProto(m protoreflect.Message) (*PushRequest, error) {
	rec, err := recordFromProto(m.Get(field(m, "record")).Message())
	if err != nil {
		return nil, err
	}
	return &PushRequest{
		Record:      rec,
		Revision:    getInt64(m, "revision"),
		BaseVersion: getInt64(m, "base_version"),
	}, nil
}

func (p *PushResponse) toProto() (proto.Message, error) {
	m := dynamicpb.NewMessage(pushResponseDesc)
	setBool(m, "accepted", p.Accepted)
	setInt64(m, "revision", p.Revision)
	setInt64(m, "version", p.Version)
	if p.Current != nil {
		if err := setRecord(m, "current", *p.Current); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func pushResponseFromProto(m protoreflect.Message) (*PushResponse, error) {
	out := &PushResponse{
		Accepted: getBool(m, "accepted"),
		Revision: getInt64(m, "revision"),
		Version:  getInt64(m, "version"),
	}
	if fd := field(m, "current"); m.Has(fd) {
		cur, err := recordFromProto(m.Get(fd).Message())
		if err != nil {
			return nil, err
		}
		out.Current = &cur
	}
	return out, nil
}

func (p *PullRequest) toProto() (proto.Message, error) {
	m := dynamicpb.NewMessage(pullRequestDesc)
	setString(m, "entity_type", p.EntityType)
	setInt64(m, "since", p.Since)
	if p.Limit != 0 {
		m.Set(field(m, "limit"), protoreflect.ValueOfInt32(int32(p.Limit)))
	}
	return m, nil
}

func pullRequestFromProto(m protoreflect.Message) (*PullRequest, error) {
	return &PullRequest{
		EntityType: getString(m, "entity_type"),
		Since:      getInt64(m, "since"),
		Limit:      int(m.Get(field(m, "limit")).Int()),
	}, nil
}

func (p *PullResponse) toProto() (proto.Message, error) {
	m := dynamicpb.NewMessage(pullResponseDesc)
	list := m.Mutable(field(m, "records")).List()
	for _, r := range p.Records {
		rm, err := r.toProto()
		if err != nil {
			return nil, err
		}
		list.Append(protoreflect.ValueOfMessage(rm))
	}
	return m, nil
}

func pullResponseFromProto(m protoreflect.Message) (*PullResponse, error) {
	list := m.Get(field(m, "records")).List()
	out := &PullResponse{Records: make([]Record, 0, list.Len())}
	for i := range list.Len() {
		r, err := recordFromProto(list.Get(i).Message())
		if err != nil {
			return nil, err
		}
		out.Records = append(out.Records, r)
	}
	return out, nil
}
