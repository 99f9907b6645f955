package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/sweepchat/internal/storage"
)

type recordedRequest struct {
	Path string
	Body map[string]any
}

func newBackend(t *testing.T, status int, body string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var got []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(raw, &m)
		mu.Lock()
		got = append(got, recordedRequest{Path: r.URL.Path, Body: m})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func newRegistry(t *testing.T, srv *httptest.Server) *Registry {
	t.Helper()
	r, err := NewDefaultRegistry(context.Background(), Config{
		AvailabilityURL: srv.URL + "/availability",
		BookingURL:      srv.URL + "/book",
		Timeout:         2 * time.Second,
	}, srv.Client())
	require.NoError(t, err)
	return r
}

func run(t *testing.T, r *Registry, name Name, args string) (string, error) {
	t.Helper()
	impl, err := r.Lookup(name)
	require.NoError(t, err)
	return impl.InvokableRun(context.Background(), args)
}

func TestCheckAvailabilityFlattensSlots(t *testing.T) {
	srv, reqs := newBackend(t, 200, `{"slots":{"2024-07-28":["2024-07-28T09:00:00.000Z"],"2024-07-27":["2024-07-27T13:00:00.000Z","2024-07-28T09:00:00.000Z"]}}`)
	r := newRegistry(t, srv)

	out, err := run(t, r, CheckAvailability, `{"start_date":"2024-07-22","end_date":"07/28/2024"}`)
	require.NoError(t, err)

	var res availabilityResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, []string{"2024-07-27T13:00:00.000Z", "2024-07-28T09:00:00.000Z"}, res.Availability)
	assert.NotEmpty(t, res.Description)

	require.Len(t, *reqs, 1)
	assert.Equal(t, "/availability", (*reqs)[0].Path)
	assert.Equal(t, "07/22/2024", (*reqs)[0].Body["start_date"])
	assert.Equal(t, "07/28/2024", (*reqs)[0].Body["end_date"])
}

func TestCheckAvailabilityLegacyBody(t *testing.T) {
	srv, reqs := newBackend(t, 200, `{"slots":["2024-07-27T13:00:00.000Z"]}`)
	r := newRegistry(t, srv)

	_, err := run(t, r, CheckAvailability, `{"start_date":"07/27/2024"}`)
	require.NoError(t, err)
	require.Len(t, *reqs, 1)
	_, hasEnd := (*reqs)[0].Body["end_date"]
	assert.False(t, hasEnd)
}

func TestCheckAvailabilityErrorPayloads(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"no slots key", 200, `{}`, `{"error":"No availability found"}`},
		{"empty slots", 200, `{"slots":[]}`, `{"error":"No availability found"}`},
		{"backend failure", 500, `oops`, `{"error":"500 bad request"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newBackend(t, tc.status, tc.body)
			out, err := run(t, newRegistry(t, srv), CheckAvailability, `{"start_date":"07/27/2024"}`)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, out)
		})
	}
}

func TestCheckAvailabilityValidation(t *testing.T) {
	srv, reqs := newBackend(t, 200, `{"slots":[]}`)
	r := newRegistry(t, srv)

	_, err := run(t, r, CheckAvailability, `{"start_date":"next tuesday"}`)
	var argErr *ArgumentError
	require.True(t, errors.As(err, &argErr))
	assert.Equal(t, "start_date", argErr.Field)

	_, err = run(t, r, CheckAvailability, `{"start_date":"07/28/2024","end_date":"07/27/2024"}`)
	require.True(t, errors.As(err, &argErr))
	assert.Equal(t, "end_date", argErr.Field)

	assert.Empty(t, *reqs, "invalid arguments must not reach the backend")
}

func TestBookAppointment(t *testing.T) {
	valid := `{"name":"Ann Lee","email":"ann@example.com","date":"2024-07-27T13:00:00.000Z","address":"12 Main St, Springfield"}`

	t.Run("success", func(t *testing.T) {
		srv, reqs := newBackend(t, 200, `{}`)
		out, err := run(t, newRegistry(t, srv), BookAppointment, valid)
		require.NoError(t, err)
		assert.Equal(t, "Appointment successfully booked.", out)
		require.Len(t, *reqs, 1)
		assert.Equal(t, "ann@example.com", (*reqs)[0].Body["email"])
	})

	t.Run("backend rejects", func(t *testing.T) {
		srv, _ := newBackend(t, 409, `{}`)
		out, err := run(t, newRegistry(t, srv), BookAppointment, valid)
		require.NoError(t, err)
		assert.Equal(t, "Failed to book appointment. Status code: 409", out)
	})

	t.Run("invalid email", func(t *testing.T) {
		srv, reqs := newBackend(t, 200, `{}`)
		_, err := run(t, newRegistry(t, srv), BookAppointment,
			`{"name":"Ann Lee","email":"not-an-email","date":"2024-07-27T13:00:00.000Z","address":"12 Main St"}`)
		var argErr *ArgumentError
		require.True(t, errors.As(err, &argErr))
		assert.Equal(t, "email", argErr.Field)
		assert.Empty(t, *reqs)
	})

	t.Run("short name", func(t *testing.T) {
		srv, _ := newBackend(t, 200, `{}`)
		_, err := run(t, newRegistry(t, srv), BookAppointment,
			`{"name":"A","email":"ann@example.com","date":"2024-07-27T13:00:00.000Z","address":"12 Main St"}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "name")
	})
}

func TestCreateBrief(t *testing.T) {
	b := &BriefTool{}
	out, err := b.InvokableRun(context.Background(),
		`{"headline":"Replace kitchen faucet","details":"Leaking single-handle faucet, customer has the part","address":"12 Main St","time_estimate":"2 hours","cost_estimate":"$150"}`)
	require.NoError(t, err)

	var got Brief
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "Replace kitchen faucet", got.Headline)
	assert.Equal(t, "$150", got.CostEstimate)

	_, err = b.InvokableRun(context.Background(), `{"headline":"Fix","details":"too short"}`)
	require.Error(t, err)
}

func TestRegistryLookupAndSubset(t *testing.T) {
	r, err := NewRegistry(context.Background(), &BriefTool{})
	require.NoError(t, err)

	_, err = r.Lookup(BookAppointment)
	assert.ErrorIs(t, err, ErrUnregistered)

	infos, err := r.Infos(context.Background(), []Name{CreateBrief})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "create_brief", infos[0].Name)

	_, err = NewRegistry(context.Background(), &BriefTool{}, &BriefTool{})
	assert.Error(t, err)
}

type panickyTool struct{ BriefTool }

func (panickyTool) InvokableRun(context.Context, string, ...tool.Option) (string, error) {
	panic("boom")
}

func TestRecoverTurnsFailuresIntoResults(t *testing.T) {
	out, err := Recover(&BriefTool{}).InvokableRun(context.Background(), `{"headline":"x"}`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Error: "))
	assert.True(t, strings.HasSuffix(out, "please fix your mistakes."))

	out, err = Recover(&panickyTool{}).InvokableRun(context.Background(), `{}`)
	require.NoError(t, err)
	assert.Contains(t, out, "boom")

	out, err = UnknownToolHandler(context.Background(), "send_invoice", `{}`)
	require.NoError(t, err)
	assert.Contains(t, out, "send_invoice")
	assert.Contains(t, out, "please fix your mistakes.")
}

func TestAuditRecordsInvocations(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "audit.db"), EnableWAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	audited := Audit(&BriefTool{}, store, nil)
	tctx := WithTrace(ctx, Trace{ID: "trace-1", ThreadID: "thread-1"})

	_, err = audited.InvokableRun(tctx, `{"headline":"Paint fence","details":"Two coats, white, 30 meters","address":"12 Main St","time_estimate":"1 day","cost_estimate":"$300"}`)
	require.NoError(t, err)
	_, err = audited.InvokableRun(tctx, `{}`)
	require.Error(t, err)

	recs, err := store.QueryAuditRecords(ctx, storage.AuditQuery{ThreadID: "thread-1"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "create_brief", recs[0].Action)
	assert.Equal(t, "trace-1", recs[0].TraceID)
	assert.Equal(t, "success", recs[0].Status)
	assert.Equal(t, "failed", recs[1].Status)
	assert.NotEmpty(t, recs[1].ErrorMessage)
}
