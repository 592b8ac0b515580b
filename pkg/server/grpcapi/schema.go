package grpcapi

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/jacktea/sumgate/pkg/validator"
)

// Wire names. They match the drtest.proto schema existing clients are
// generated from.
const (
	ProtoFile          = "drtest.proto"
	ServiceName        = "drtest.DataValidator"
	ValidateDataMethod = "/drtest.DataValidator/ValidateData"
)

var (
	// File is the registered drtest.proto descriptor.
	File protoreflect.FileDescriptor
	// RequestDescriptor describes drtest.DataRequest.
	RequestDescriptor protoreflect.MessageDescriptor
	// ResponseDescriptor describes drtest.DataResponse.
	ResponseDescriptor protoreflect.MessageDescriptor

	reqData, reqExpected, reqBucket                    protoreflect.FieldDescriptor
	respSuccess, respChecksum, respPath, respValidation protoreflect.FieldDescriptor
)

func init() {
	fd, err := protodesc.NewFile(fileDescriptorProto(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("building %s: %v", ProtoFile, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("registering %s: %v", ProtoFile, err))
	}
	File = fd
	RequestDescriptor = fd.Messages().ByName("DataRequest")
	ResponseDescriptor = fd.Messages().ByName("DataResponse")

	reqFields := RequestDescriptor.Fields()
	reqData = reqFields.ByName("data")
	reqExpected = reqFields.ByName("expected_checksum")
	reqBucket = reqFields.ByName("bucket")

	respFields := ResponseDescriptor.Fields()
	respSuccess = respFields.ByName("success")
	respChecksum = respFields.ByName("checksum")
	respPath = respFields.ByName("object_path")
	respValidation = respFields.ByName("validation_error")
}

// fileDescriptorProto builds drtest.proto, checked in next to this file, by
// hand so the package needs no generated code.
func fileDescriptorProto() *descriptorpb.FileDescriptorProto {
	field := func(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type, jsonName string) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(name),
			Number:   proto.Int32(num),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     typ.Enum(),
			JsonName: proto.String(jsonName),
		}
	}
	expected := field("expected_checksum", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING, "expectedChecksum")
	expected.OneofIndex = proto.Int32(0)
	expected.Proto3Optional = proto.Bool(true)

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(ProtoFile),
		Package: proto.String("drtest"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("DataRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("data", 1, descriptorpb.FieldDescriptorProto_TYPE_BYTES, "data"),
					expected,
					field("bucket", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING, "bucket"),
				},
				OneofDecl: []*descriptorpb.OneofDescriptorProto{
					{Name: proto.String("_expected_checksum")},
				},
			},
			{
				Name: proto.String("DataResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("success", 1, descriptorpb.FieldDescriptorProto_TYPE_BOOL, "success"),
					field("checksum", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING, "checksum"),
					field("object_path", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING, "objectPath"),
					field("validation_error", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING, "validationError"),
				},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("DataValidator"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       proto.String("ValidateData"),
						InputType:  proto.String(".drtest.DataRequest"),
						OutputType: proto.String(".drtest.DataResponse"),
					},
				},
			},
		},
	}
}

// NewRequestMessage encodes req as a drtest.DataRequest.
func NewRequestMessage(req validator.Request) *dynamicpb.Message {
	m := dynamicpb.NewMessage(RequestDescriptor)
	if len(req.Data) > 0 {
		m.Set(reqData, protoreflect.ValueOfBytes(req.Data))
	}
	if req.ExpectedChecksum != nil {
		m.Set(reqExpected, protoreflect.ValueOfString(*req.ExpectedChecksum))
	}
	if req.Bucket != "" {
		m.Set(reqBucket, protoreflect.ValueOfString(req.Bucket))
	}
	return m
}

// RequestFromMessage decodes a drtest.DataRequest. Presence of
// expected_checksum is preserved, so an explicitly empty value is still
// compared.
func RequestFromMessage(m protoreflect.Message) validator.Request {
	req := validator.Request{
		Data:   m.Get(reqData).Bytes(),
		Bucket: m.Get(reqBucket).String(),
	}
	if m.Has(reqExpected) {
		s := m.Get(reqExpected).String()
		req.ExpectedChecksum = &s
	}
	return req
}

// NewResponseMessage encodes resp as a drtest.DataResponse.
func NewResponseMessage(resp validator.Response) *dynamicpb.Message {
	m := dynamicpb.NewMessage(ResponseDescriptor)
	m.Set(respSuccess, protoreflect.ValueOfBool(resp.Success))
	m.Set(respChecksum, protoreflect.ValueOfString(resp.Checksum))
	m.Set(respPath, protoreflect.ValueOfString(resp.ObjectPath))
	m.Set(respValidation, protoreflect.ValueOfString(resp.ValidationError))
	return m
}

// ResponseFromMessage decodes a drtest.DataResponse.
func ResponseFromMessage(m protoreflect.Message) validator.Response {
	return validator.Response{
		Success:         m.Get(respSuccess).Bool(),
		Checksum:        m.Get(respChecksum).String(),
		ObjectPath:      m.Get(respPath).String(),
		ValidationError: m.Get(respValidation).String(),
	}
}
