package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"Go2TopTalk/internal/message"
	"Go2TopTalk/internal/model"
	"Go2TopTalk/internal/query"
)

var testPeriods = []time.Duration{time.Millisecond, 5 * time.Millisecond}

type fakeEngine struct {
	top       *model.TopFlows
	restarted []string
	lastN     int
}

func (f *fakeEngine) TopN(_ context.Context, n int) (*model.TopFlows, error) {
	f.lastN = n
	return f.top, nil
}

func (f *fakeEngine) FlowCount(context.Context) (int, error) { return f.top.FlowCount, nil }

func (f *fakeEngine) Snapshot() *model.TopFlows { return f.top }

func (f *fakeEngine) RestartCapture(iface string) error {
	if iface == "bogus0" {
		return errors.New("no such device")
	}
	f.restarted = append(f.restarted, iface)
	return nil
}

type fakeQuerier struct {
	history []*message.TopTalk
	req     query.HistoryRequest
}

func (f *fakeQuerier) History(_ context.Context, req query.HistoryRequest) ([]*message.TopTalk, error) {
	f.req = req
	return f.history, nil
}

func (f *fakeQuerier) TopTalkers(context.Context, query.TalkersRequest) ([]query.Talker, error) {
	return []query.Talker{{Src: "10.0.0.1", Dst: "10.0.0.2", Proto: "TCP", AvgBytesPerSecond: 10, Appearances: 3}}, nil
}

func testTopFlows() *model.TopFlows {
	return &model.TopFlows{
		Timestamp:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		FlowCount:    3,
		TotalBytes:   900,
		TotalPackets: 6,
		Flows: []model.RankedFlow{{
			Flow: model.Flow{
				SrcAddr:  netip.MustParseAddr("10.0.0.1"),
				DstAddr:  netip.MustParseAddr("10.0.0.2"),
				SrcPort:  1234,
				DstPort:  80,
				Protocol: model.ProtoTCP,
			},
			Bytes:   600,
			Packets: 4,
			Rates: []model.IntervalRate{
				{Period: time.Millisecond, BytesPerSecond: 100000, PacketsPerSecond: 1000},
				{Period: 5 * time.Millisecond, BytesPerSecond: 40000, PacketsPerSecond: 400},
			},
		}},
	}
}

func newTestService(q query.Querier) (*Service, *fakeEngine) {
	engine := &fakeEngine{top: testTopFlows()}
	return NewService(engine, q, testPeriods), engine
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeStruct(t *testing.T, body []byte) map[string]any {
	t.Helper()
	s := &structpb.Struct{}
	require.NoError(t, protojson.Unmarshal(body, s))
	return s.AsMap()
}

func TestHTTP_TopN(t *testing.T) {
	svc, engine := newTestService(nil)
	rec := do(t, NewHTTPHandler(svc), "GET", "/api/v1/top?n=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, 3, engine.lastN)

	body := decodeStruct(t, rec.Body.Bytes())
	assert.Equal(t, float64(3), body["tflows"])
	flows := body["flows"].([]any)
	require.Len(t, flows, 1)
	flow := flows[0].(map[string]any)
	assert.Equal(t, "TCP", flow["proto"])
	assert.Equal(t, float64(40000), flow["rates"].(map[string]any)["5ms"].(map[string]any)["bytes"])
}

func TestHTTP_TopNClampsN(t *testing.T) {
	svc, engine := newTestService(nil)
	rec := do(t, NewHTTPHandler(svc), "GET", "/api/v1/top?n=1000000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.MaxFlows, engine.lastN)

	rec = do(t, NewHTTPHandler(svc), "GET", "/api/v1/top?n=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_Interval(t *testing.T) {
	svc, _ := newTestService(nil)
	h := NewHTTPHandler(svc)

	rec := do(t, h, "GET", "/api/v1/intervals/5ms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	msg, err := message.Decode(rec.Body.Bytes(), message.EncodingJSON)
	require.NoError(t, err)
	assert.Equal(t, int64(5*time.Millisecond), msg.IntervalNs)
	assert.Equal(t, uint64(40000), msg.Flows[0].Bytes)

	rec = do(t, h, "GET", "/api/v1/intervals/7ms", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTP_FlowCount(t *testing.T) {
	svc, _ := newTestService(nil)
	rec := do(t, NewHTTPHandler(svc), "GET", "/api/v1/flows/count", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decodeStruct(t, rec.Body.Bytes())["flows"])
}

func TestHTTP_RestartCapture(t *testing.T) {
	svc, engine := newTestService(nil)
	h := NewHTTPHandler(svc)

	rec := do(t, h, "POST", "/api/v1/capture/restart", `{"interface":"eth1"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"eth1"}, engine.restarted)

	rec = do(t, h, "POST", "/api/v1/capture/restart", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "POST", "/api/v1/capture/restart", `{"interface":"bogus0"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, h, "GET", "/api/v1/capture/restart", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHTTP_History(t *testing.T) {
	q := &fakeQuerier{history: []*message.TopTalk{message.FromTopFlows(testTopFlows(), 1, 5*time.Millisecond)}}
	svc, _ := newTestService(q)
	h := NewHTTPHandler(svc)

	rec := do(t, h, "GET", "/api/v1/history/5ms?since=2024-05-01T11:00:00Z&limit=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5*time.Millisecond, q.req.Interval)
	assert.Equal(t, 7, q.req.Limit)
	assert.True(t, q.req.Since.Equal(time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)))
	assert.Len(t, decodeStruct(t, rec.Body.Bytes())["messages"], 1)

	rec = do(t, h, "GET", "/api/v1/history/5ms?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "GET", "/api/v1/talkers/5ms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeStruct(t, rec.Body.Bytes())["talkers"], 1)
}

func TestHTTP_HistoryWithoutStore(t *testing.T) {
	svc, _ := newTestService(nil)
	rec := do(t, NewHTTPHandler(svc), "GET", "/api/v1/history/5ms", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHTTP_Metrics(t *testing.T) {
	svc, _ := newTestService(nil)
	rec := do(t, NewHTTPHandler(svc), "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func dialBufconn(t *testing.T, svc *Service) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPC(svc)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPC_Queries(t *testing.T) {
	svc, engine := newTestService(nil)
	client := NewClient(dialBufconn(t, svc))
	ctx := context.Background()

	top, err := client.TopN(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, engine.lastN)
	assert.Len(t, top.GetFields()["flows"].GetListValue().GetValues(), 1)

	count, err := client.FlowCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	interval, err := client.Interval(ctx, "1ms")
	require.NoError(t, err)
	msg, err := message.FromStruct(interval)
	require.NoError(t, err)
	assert.Equal(t, uint64(100000), msg.Flows[0].Bytes)

	_, err = client.Interval(ctx, "3ms")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_RestartCapture(t *testing.T) {
	svc, engine := newTestService(nil)
	client := NewClient(dialBufconn(t, svc))

	require.NoError(t, client.RestartCapture(context.Background(), "eth2"))
	assert.Equal(t, []string{"eth2"}, engine.restarted)

	err := client.RestartCapture(context.Background(), "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_Health(t *testing.T) {
	svc, _ := newTestService(nil)
	resp, err := healthpb.NewHealthClient(dialBufconn(t, svc)).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
