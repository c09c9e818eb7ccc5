package wire

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// The schema below is wardsync/v1/authority.proto:
//
//	syntax = "proto3";
//	package wardsync.v1;
//
//	import "google/protobuf/struct.proto";
//	import "google/protobuf/timestamp.proto";
//
//	message Record {
//	  string entity_type = 1;
//	  string id = 2;
//	  google.protobuf.Struct payload = 3;
//	  google.protobuf.Timestamp updated_at = 4;
//	  bool deleted = 5;
//	  int64 version = 6;
//	  string origin = 7;
//	}
//
//	message PingRequest {}
//	message PingResponse {
//	  string status = 1;
//	  google.protobuf.Timestamp server_time = 2;
//	}
//
//	message PushRequest {
//	  Record record = 1;
//	  int64 revision = 2;
//	  int64 base_version = 3;
//	}
//	message PushResponse {
//	  bool accepted = 1;
//	  int64 revision = 2;
//	  int64 version = 3;
//	  Record current = 4;
//	}
//
//	message PullRequest {
//	  string entity_type = 1;
//	  int64 since = 2;
//	  int32 limit = 3;
//	}
//	message PullResponse {
//	  repeated Record records = 1;
//	}
//
//	service Authority {
//	  rpc Ping(PingRequest) returns (PingResponse);
//	  rpc Push(PushRequest) returns (PushResponse);
//	  rpc Pull(PullRequest) returns (PullResponse);
//	}
const protoFile = "wardsync/v1/authority.proto"

const (
	structType    = ".google.protobuf.Struct"
	timestampType = ".google.protobuf.Timestamp"
	recordType    = ".wardsync.v1.Record"
)

type fieldSpec struct {
	name     string
	number   int32
	kind     descriptorpb.FieldDescriptorProto_Type
	typeName string
	repeated bool
}

func scalar(name string, number int32, kind descriptorpb.FieldDescriptorProto_Type) fieldSpec {
	return fieldSpec{name: name, number: number, kind: kind}
}

func message(name string, number int32, typeName string) fieldSpec {
	return fieldSpec{name: name, number: number, kind: descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, typeName: typeName}
}

func messageType(name string, fields ...fieldSpec) *descriptorpb.DescriptorProto {
	m := &descriptorpb.DescriptorProto{Name: proto.String(name)}
	for _, f := range fields {
		label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
		if f.repeated {
			label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
		}
		fd := &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(f.name),
			Number: proto.Int32(f.number),
			Label:  label.Enum(),
			Type:   f.kind.Enum(),
		}
		if f.typeName != "" {
			fd.TypeName = proto.String(f.typeName)
		}
		m.Field = append(m.Field, fd)
	}
	return m
}

func method(name string) *descriptorpb.MethodDescriptorProto {
	return &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String(".wardsync.v1." + name + "Request"),
		OutputType: proto.String(".wardsync.v1." + name + "Response"),
	}
}

func authorityFileProto() *descriptorpb.FileDescriptorProto {
	const (
		str  = descriptorpb.FieldDescriptorProto_TYPE_STRING
		i64  = descriptorpb.FieldDescriptorProto_TYPE_INT64
		i32  = descriptorpb.FieldDescriptorProto_TYPE_INT32
		flag = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	)

	records := message("records", 1, recordType)
	records.repeated = true

	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(protoFile),
		Package:    proto.String("wardsync.v1"),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/struct.proto", "google/protobuf/timestamp.proto"},
		MessageType: []*descriptorpb.DescriptorProto{
			messageType("Record",
				scalar("entity_type", 1, str),
				scalar("id", 2, str),
				message("payload", 3, structType),
				message("updated_at", 4, timestampType),
				scalar("deleted", 5, flag),
				scalar("version", 6, i64),
				scalar("origin", 7, str),
			),
			messageType("PingRequest"),
			messageType("PingResponse",
				scalar("status", 1, str),
				message("server_time", 2, timestampType),
			),
			messageType("PushRequest",
				message("record", 1, recordType),
				scalar("revision", 2, i64),
				scalar("base_version", 3, i64),
			),
			messageType("PushResponse",
				scalar("accepted", 1, flag),
				scalar("revision", 2, i64),
				scalar("version", 3, i64),
				message("current", 4, recordType),
			),
			messageType("PullRequest",
				scalar("entity_type", 1, str),
				scalar("since", 2, i64),
				scalar("limit", 3, i32),
			),
			messageType("PullResponse", records),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String("Authority"),
			Method: []*descriptorpb.MethodDescriptorProto{method("Ping"), method("Push"), method("Pull")},
		}},
	}
}

// File is the descriptor of wardsync/v1/authority.proto, registered in
// protoregistry.GlobalFiles. The struct and timestamp imports resolve there
// because convert.go links structpb and timestamppb.
var File = mustBuildFile()

func mustBuildFile() protoreflect.FileDescriptor {
	fd, err := protodesc.NewFile(authorityFileProto(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("wire: build %s: %v", protoFile, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("wire: register %s: %v", protoFile, err))
	}
	return fd
}

var (
	recordDesc       = File.Messages().ByName("Record")
	pingRequestDesc  = File.Messages().ByName("PingRequest")
	pingResponseDesc = File.Messages().ByName("PingResponse")
	pushRequestDesc  = File.Messages().ByName("PushRequest")
	pushResponseDesc = File.Messages().ByName("PushResponse")
	pullRequestDesc  = File.Messages().ByName("PullRequest")
	pullResponseDesc = File.Messages().ByName("PullResponse")
)
