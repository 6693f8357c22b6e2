package wire

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// feedFile is the daq.feed schema, equivalent to:
//
//	syntax = "proto3";
//	package daq.feed;
//
//	message Event {
//	  string stream = 1;
//	  sint64 event_id = 2;
//	  sint64 trigger_mask = 3;
//	  sint64 serial = 4;
//	  uint32 producer_time = 5;
//	  bytes data = 6;
//	}
//	message Message { bytes payload = 1; }
//	message Transition { uint32 kind = 1; sint64 run = 2; string text = 3; }
//	message Subscribe { string stream = 1; sint64 event_id = 2; uint32 mode = 3; }
//	message RegisterMessages {}
//	message RegisterTransition { uint32 kind = 1; sint64 priority = 2; }
var feedFile = mustBuildFeedFile()

const (
	typeString = descriptorpb.FieldDescriptorProto_TYPE_STRING
	typeBytes  = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	typeSint64 = descriptorpb.FieldDescriptorProto_TYPE_SINT64
	typeUint32 = descriptorpb.FieldDescriptorProto_TYPE_UINT32
)

func mustBuildFeedFile() protoreflect.FileDescriptor {
	fd, err := protodesc.NewFile(&descriptorpb.FileDescriptorProto{
		Name:    proto.String("daq/feed.proto"),
		Package: proto.String("daq.feed"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("Event",
				field("stream", 1, typeString),
				field("event_id", 2, typeSint64),
				field("trigger_mask", 3, typeSint64),
				field("serial", 4, typeSint64),
				field("producer_time", 5, typeUint32),
				field("data", 6, typeBytes),
			),
			message("Message",
				field("payload", 1, typeBytes),
			),
			message("Transition",
				field("kind", 1, typeUint32),
				field("run", 2, typeSint64),
				field("text", 3, typeString),
			),
			message("Subscribe",
				field("stream", 1, typeString),
				field("event_id", 2, typeSint64),
				field("mode", 3, typeUint32),
			),
			message("RegisterMessages"),
			message("RegisterTransition",
				field("kind", 1, typeUint32),
				field("priority", 2, typeSint64),
			),
		},
	}, protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("wire: build feed schema: %v", err))
	}
	return fd
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func field(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

// newMessage returns an empty message for a frame type URL.
func newMessage(typeURL string) (*dynamicpb.Message, error) {
	name := protoreflect.FullName(typeURL)
	if name.Parent() != feedFile.Package() {
		return nil, fmt.Errorf("unknown frame type %q", typeURL)
	}
	md := feedFile.Messages().ByName(name.Name())
	if md == nil {
		return nil, fmt.Errorf("unknown frame type %q", typeURL)
	}
	return dynamicpb.NewMessage(md), nil
}

// Zero values are left unset, as proto3 does.

func setString(m protoreflect.Message, name protoreflect.Name, v string) {
	if v != "" {
		m.Set(m.Descriptor().Fields().ByName(name), protoreflect.ValueOfString(v))
	}
}

func setBytes(m protoreflect.Message, name protoreflect.Name, v []byte) {
	if len(v) > 0 {
		m.Set(m.Descriptor().Fields().ByName(name), protoreflect.ValueOfBytes(v))
	}
}

func setInt(m protoreflect.Message, name protoreflect.Name, v int64) {
	if v != 0 {
		m.Set(m.Descriptor().Fields().ByName(name), protoreflect.ValueOfInt64(v))
	}
}

func setUint(m protoreflect.Message, name protoreflect.Name, v uint32) {
	if v != 0 {
		m.Set(m.Descriptor().Fields().ByName(name), protoreflect.ValueOfUint32(v))
	}
}

func get(m protoreflect.Message, name protoreflect.Name) protoreflect.Value {
	return m.Get(m.Descriptor().Fields().ByName(name))
}

func getBytes(m protoreflect.Message, name protoreflect.Name) []byte {
	b := get(m, name).Bytes()
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
