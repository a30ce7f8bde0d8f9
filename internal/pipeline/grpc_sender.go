package pipeline

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"perfagent/internal/perfmon"
)

const (
	collectorService      = "perfagent.v1.Collector"
	collectorSubmitMethod = "/" + collectorService + "/Submit"
)

// collectorSchema holds the runtime descriptors of the collector wire messages.
type collectorSchema struct {
	request  protoreflect.MessageDescriptor
	response protoreflect.MessageDescriptor
	record   protoreflect.MessageDescriptor
	sample   protoreflect.MessageDescriptor
	attr     protoreflect.MessageDescriptor
}

var wireSchema = mustCollectorSchema()

// mustCollectorSchema describes perfagent/v1/collector.proto:
//
//	message Attr { int32 symbol_id = 1; string value = 2; }
//	message Sample { int32 metric_id = 1; sint64 int_value = 2; double float_value = 3; bool is_float = 4; repeated Attr attrs = 5; }
//	message PerfRecord { int64 clock = 1; int32 scanner_id = 2; repeated Sample samples = 3; }
//	message SubmitRequest { string agent = 1; string host = 2; repeated PerfRecord records = 3; string host_ip = 4; }
//	message SubmitResponse { uint32 accepted = 1; }
//	service Collector { rpc Submit(SubmitRequest) returns (SubmitResponse); }
func mustCollectorSchema() collectorSchema {
	message := func(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
		return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
	}

	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("perfagent/v1/collector.proto"),
		Package: proto.String("perfagent.v1"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("Attr",
				scalarField("symbol_id", 1, descriptorpb.FieldDescriptorProto_TYPE_INT32),
				scalarField("value", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			),
			message("Sample",
				scalarField("metric_id", 1, descriptorpb.FieldDescriptorProto_TYPE_INT32),
				scalarField("int_value", 2, descriptorpb.FieldDescriptorProto_TYPE_SINT64),
				scalarField("float_value", 3, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
				scalarField("is_float", 4, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
				repeatedField("attrs", 5, ".perfagent.v1.Attr"),
			),
			message("PerfRecord",
				scalarField("clock", 1, descriptorpb.FieldDescriptorProto_TYPE_INT64),
				scalarField("scanner_id", 2, descriptorpb.FieldDescriptorProto_TYPE_INT32),
				repeatedField("samples", 3, ".perfagent.v1.Sample"),
			),
			message("SubmitRequest",
				scalarField("agent", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				scalarField("host", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				repeatedField("records", 3, ".perfagent.v1.PerfRecord"),
				scalarField("host_ip", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			),
			message("SubmitResponse",
				scalarField("accepted", 1, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("Collector"),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       proto.String("Submit"),
				InputType:  proto.String(".perfagent.v1.SubmitRequest"),
				OutputType: proto.String(".perfagent.v1.SubmitResponse"),
			}},
		}},
	}

	fd, err := protodesc.NewFile(file, nil)
	if err != nil {
		panic(fmt.Sprintf("build collector descriptors: %v", err))
	}
	messages := fd.Messages()
	return collectorSchema{
		request:  messages.ByName("SubmitRequest"),
		response: messages.ByName("SubmitResponse"),
		record:   messages.ByName("PerfRecord"),
		sample:   messages.ByName("Sample"),
		attr:     messages.ByName("Attr"),
	}
}

func scalarField(name string, number int32, kind descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(jsonName(name)),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     kind.Enum(),
	}
}

func repeatedField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(jsonName(name)),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
		TypeName: proto.String(typeName),
	}
}

// jsonName converts snake_case to lowerCamelCase like protoc does.
func jsonName(name string) string {
	parts := strings.Split(name, "_")
	for idx := 1; idx < len(parts); idx++ {
		if parts[idx] != "" {
			parts[idx] = strings.ToUpper(parts[idx][:1]) + parts[idx][1:]
		}
	}
	return strings.Join(parts, "")
}

func wireField(md protoreflect.MessageDescriptor, name protoreflect.Name) protoreflect.FieldDescriptor {
	return md.Fields().ByName(name)
}

// SubmitBatch is the decoded content of one SubmitRequest.
type SubmitBatch struct {
	Identity
	HostIP  string
	Records []perfmon.PerfRecord
}

// GRPCSender sends record batches to collectors over gRPC.
// Params: identity stamped on every request.
// Returns: sender implementation with per-address connection cache.
type GRPCSender struct {
	identity Identity

	mu      sync.RWMutex
	conns   map[string]*grpc.ClientConn
	localIP map[string]string
}

// NewGRPCSender creates a sender stamping requests with identity.
func NewGRPCSender(identity Identity) *GRPCSender {
	return &GRPCSender{identity: identity}
}

// Close closes all cached gRPC connections and clears sender caches.
// Params: none.
// Returns: first close error when present.
func (s *GRPCSender) Close() error {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.localIP = nil
	s.mu.Unlock()

	var firstErr error
	for _, conn := range conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Encode serializes a batch into a SubmitRequest payload for the disk queue.
// Params: records batch.
// Returns: protobuf payload or encode error.
func (s *GRPCSender) Encode(records []perfmon.PerfRecord) ([]byte, error) {
	payload, err := proto.Marshal(buildSubmitRequest(s.identity, records))
	if err != nil {
		return nil, fmt.Errorf("marshal submit request: %w", err)
	}
	return payload, nil
}

// SendBatch builds a request from records and submits it to one collector address.
// Params: ctx lifecycle context; address destination host:port; records batch; timeout dial/call timeout.
// Returns: send error on connect/rpc failure.
func (s *GRPCSender) SendBatch(ctx context.Context, address string, records []perfmon.PerfRecord, timeout time.Duration) error {
	return s.sendPreparedRequest(ctx, address, buildSubmitRequest(s.identity, records), timeout)
}

// Send replays an encoded payload to one collector address.
// Params: ctx lifecycle context; address destination host:port; payload encoded request; timeout dial/call timeout.
// Returns: send error on decode/connect/rpc failure.
func (s *GRPCSender) Send(ctx context.Context, address string, payload []byte, timeout time.Duration) error {
	request := dynamicpb.NewMessage(wireSchema.request)
	if err := proto.Unmarshal(payload, request); err != nil {
		return fmt.Errorf("unmarshal submit request: %w", err)
	}
	return s.sendPreparedRequest(ctx, address, request, timeout)
}

// sendPreparedRequest stamps the local source IP and invokes Submit on one address.
func (s *GRPCSender) sendPreparedRequest(ctx context.Context, address string, request *dynamicpb.Message, timeout time.Duration) error {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return fmt.Errorf("collector address is empty")
	}

	if hostIP, err := s.localIPForAddress(ctx, addr, timeout); err == nil && hostIP != "" {
		request.Set(wireField(wireSchema.request, "host_ip"), protoreflect.ValueOfString(hostIP))
	}

	conn, err := s.connForAddress(ctx, addr, timeout)
	if err != nil {
		return err
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	response := dynamicpb.NewMessage(wireSchema.response)
	if err := conn.Invoke(callCtx, collectorSubmitMethod, request, response); err != nil {
		s.dropAddress(addr)
		return fmt.Errorf("submit records %s: %w", addr, err)
	}
	return nil
}

// connForAddress returns a cached connection or dials and stores a new one.
// Params: ctx lifecycle context; address destination host:port; timeout dial timeout.
// Returns: reusable connection or error.
func (s *GRPCSender) connForAddress(ctx context.Context, address string, timeout time.Duration) (*grpc.ClientConn, error) {
	s.mu.RLock()
	if conn, ok := s.conns[address]; ok {
		s.mu.RUnlock()
		return conn, nil
	}
	s.mu.RUnlock()

	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := grpc.DialContext(
		dialCtx,
		address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		s.conns = make(map[string]*grpc.ClientConn)
	}
	if cached, exists := s.conns[address]; exists {
		_ = conn.Close()
		return cached, nil
	}
	s.conns[address] = conn
	return conn, nil
}

// dropAddress removes the cached connection for one address.
func (s *GRPCSender) dropAddress(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, exists := s.conns[address]
	if !exists {
		return
	}
	delete(s.conns, address)
	delete(s.localIP, address)
	_ = conn.Close()
}

// localIPForAddress resolves and caches the local source IP used to reach address.
// Params: address destination host:port; timeout dial timeout.
// Returns: local source IP or error.
func (s *GRPCSender) localIPForAddress(ctx context.Context, address string, timeout time.Duration) (string, error) {
	s.mu.RLock()
	if ip, ok := s.localIP[address]; ok {
		s.mu.RUnlock()
		return ip, nil
	}
	s.mu.RUnlock()

	dialTimeout := timeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, err := (&net.Dialer{Timeout: dialTimeout}).DialContext(dialCtx, "tcp", address)
	if err != nil {
		return "", fmt.Errorf("resolve local ip for %s: %w", address, err)
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok || localAddr.IP == nil {
		return "", fmt.Errorf("resolve local ip for %s: unexpected local addr", address)
	}
	ip := localAddr.IP.String()

	s.mu.Lock()
	if s.localIP == nil {
		s.localIP = make(map[string]string)
	}
	s.localIP[address] = ip
	s.mu.Unlock()
	return ip, nil
}

// buildSubmitRequest converts records into a SubmitRequest message.
// Params: identity request header; records batch.
// Returns: dynamic protobuf message.
func buildSubmitRequest(identity Identity, records []perfmon.PerfRecord) *dynamicpb.Message {
	request := dynamicpb.NewMessage(wireSchema.request)
	request.Set(wireField(wireSchema.request, "agent"), protoreflect.ValueOfString(identity.Agent))
	request.Set(wireField(wireSchema.request, "host"), protoreflect.ValueOfString(identity.Host))

	list := request.Mutable(wireField(wireSchema.request, "records")).List()
	for _, record := range records {
		list.Append(protoreflect.ValueOfMessage(encodeRecord(record)))
	}
	return request
}

func encodeRecord(record perfmon.PerfRecord) protoreflect.Message {
	msg := dynamicpb.NewMessage(wireSchema.record)
	msg.Set(wireField(wireSchema.record, "clock"), protoreflect.ValueOfInt64(record.Clock))
	msg.Set(wireField(wireSchema.record, "scanner_id"), protoreflect.ValueOfInt32(record.ScannerID))

	samples := msg.Mutable(wireField(wireSchema.record, "samples")).List()
	for _, sample := range record.Samples {
		samples.Append(protoreflect.ValueOfMessage(encodeSample(sample)))
	}
	return msg
}

func encodeSample(sample perfmon.PerfSample) protoreflect.Message {
	msg := dynamicpb.NewMessage(wireSchema.sample)
	msg.Set(wireField(wireSchema.sample, "metric_id"), protoreflect.ValueOfInt32(sample.MetricID))
	if sample.Value.IsFloat() {
		msg.Set(wireField(wireSchema.sample, "float_value"), protoreflect.ValueOfFloat64(sample.Value.Float64()))
		msg.Set(wireField(wireSchema.sample, "is_float"), protoreflect.ValueOfBool(true))
	} else {
		msg.Set(wireField(wireSchema.sample, "int_value"), protoreflect.ValueOfInt64(sample.Value.Int64()))
	}

	if len(sample.Attrs) == 0 {
		return msg
	}
	ids := make([]int32, 0, len(sample.Attrs))
	for id := range sample.Attrs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	attrs := msg.Mutable(wireField(wireSchema.sample, "attrs")).List()
	for _, id := range ids {
		attr := dynamicpb.NewMessage(wireSchema.attr)
		attr.Set(wireField(wireSchema.attr, "symbol_id"), protoreflect.ValueOfInt32(id))
		attr.Set(wireField(wireSchema.attr, "value"), protoreflect.ValueOfString(sample.Attrs[id]))
		attrs.Append(protoreflect.ValueOfMessage(attr))
	}
	return msg
}

// DecodeSubmitRequest parses an encoded SubmitRequest payload.
// Params: payload bytes produced by Encode.
// Returns: decoded batch or unmarshal error.
func DecodeSubmitRequest(payload []byte) (SubmitBatch, error) {
	request := dynamicpb.NewMessage(wireSchema.request)
	if err := proto.Unmarshal(payload, request); err != nil {
		return SubmitBatch{}, fmt.Errorf("unmarshal submit request: %w", err)
	}
	return decodeSubmitMessage(request), nil
}

func decodeSubmitMessage(request protoreflect.Message) SubmitBatch {
	batch := SubmitBatch{
		Identity: Identity{
			Agent: request.Get(wireField(wireSchema.request, "agent")).String(),
			Host:  request.Get(wireField(wireSchema.request, "host")).String(),
		},
		HostIP: request.Get(wireField(wireSchema.request, "host_ip")).String(),
	}

	records := request.Get(wireField(wireSchema.request, "records")).List()
	batch.Records = make([]perfmon.PerfRecord, 0, records.Len())
	for idx := 0; idx < records.Len(); idx++ {
		batch.Records = append(batch.Records, decodeRecord(records.Get(idx).Message()))
	}
	return batch
}

func decodeRecord(msg protoreflect.Message) perfmon.PerfRecord {
	record := perfmon.PerfRecord{
		Clock:     msg.Get(wireField(wireSchema.record, "clock")).Int(),
		ScannerID: int32(msg.Get(wireField(wireSchema.record, "scanner_id")).Int()),
	}

	samples := msg.Get(wireField(wireSchema.record, "samples")).List()
	record.Samples = make([]perfmon.PerfSample, 0, samples.Len())
	for idx := 0; idx < samples.Len(); idx++ {
		sampleMsg := samples.Get(idx).Message()
		sample := perfmon.PerfSample{
			MetricID: int32(sampleMsg.Get(wireField(wireSchema.sample, "metric_id")).Int()),
		}
		if sampleMsg.Get(wireField(wireSchema.sample, "is_float")).Bool() {
			sample.Value = perfmon.Float(sampleMsg.Get(wireField(wireSchema.sample, "float_value")).Float())
		} else {
			sample.Value = perfmon.Int(sampleMsg.Get(wireField(wireSchema.sample, "int_value")).Int())
		}

		attrs := sampleMsg.Get(wireField(wireSchema.sample, "attrs")).List()
		if attrs.Len() > 0 {
			sample.Attrs = make(map[int32]string, attrs.Len())
			for attrIdx := 0; attrIdx < attrs.Len(); attrIdx++ {
				attr := attrs.Get(attrIdx).Message()
				id := int32(attr.Get(wireField(wireSchema.attr, "symbol_id")).Int())
				sample.Attrs[id] = attr.Get(wireField(wireSchema.attr, "value")).String()
			}
		}
		record.Samples = append(record.Samples, sample)
	}
	return record
}

// CollectorServer receives decoded batches on the collector side.
type CollectorServer interface {
	Submit(ctx context.Context, batch SubmitBatch) (accepted int, err error)
}

// RegisterCollectorServer registers the Collector service on a gRPC server.
// Params: s target server; srv batch handler.
// Returns: none.
func RegisterCollectorServer(s *grpc.Server, srv CollectorServer) {
	s.RegisterService(&collectorServiceDesc, srv)
}

var collectorServiceDesc = grpc.ServiceDesc{
	ServiceName: collectorService,
	HandlerType: (*CollectorServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Submit",
		Handler:    collectorSubmitHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "perfagent/v1/collector.proto",
}

func collectorSubmitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := dynamicpb.NewMessage(wireSchema.request)
	if err := dec(request); err != nil {
		return nil, err
	}

	handle := func(ctx context.Context, req any) (any, error) {
		accepted, err := srv.(CollectorServer).Submit(ctx, decodeSubmitMessage(req.(*dynamicpb.Message)))
		if err != nil {
			return nil, err
		}
		response := dynamicpb.NewMessage(wireSchema.response)
		response.Set(wireField(wireSchema.response, "accepted"), protoreflect.ValueOfUint32(uint32(accepted)))
		return response, nil
	}
	if interceptor == nil {
		return handle(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: collectorSubmitMethod}
	return interceptor(ctx, request, info, handle)
}
