package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/rmp-harvest/internal/testutil"
	"github.com/Sternrassler/rmp-harvest/pkg/client"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetchFunc func(ctx context.Context, path string) ([]byte, error)

func (f fetchFunc) Page(ctx context.Context, path string) ([]byte, error) { return f(ctx, path) }

func TestClassify(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		body string
		want Verdict
	}{
		{name: "valid", body: "<html>Massachusetts Institute of Technology</html>", want: Valid},
		{name: "not found", body: "<h1>We couldn&#x27;t find the school you were looking for</h1>", want: NotFound},
		{name: "no data", body: "<p>This school doesn't have any ratings yet</p>", want: NoData},
		{name: "both markers", body: "We couldn&#x27;t find the school you were looking for; have any ratings yet", want: NotFound},
		{name: "empty", body: "", want: Valid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify([]byte(tt.body), cfg)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want == Valid, got.Valid())
		})
	}
}

func TestVerdict_String(t *testing.T) {
	assert.Equal(t, "valid", Valid.String())
	assert.Equal(t, "not_found", NotFound.String())
	assert.Equal(t, "no_data", NoData.String())
	assert.Equal(t, "verdict(9)", Verdict(9).String())
}

func TestNew_Validation(t *testing.T) {
	fetch := fetchFunc(func(context.Context, string) ([]byte, error) { return nil, nil })

	_, err := New(nil, DefaultConfig(), zerolog.Nop())
	assert.EqualError(t, err, "fetcher is required")

	cfg := DefaultConfig()
	cfg.PathFormat = "/school/"
	_, err = New(fetch, cfg, zerolog.Nop())
	assert.EqualError(t, err, `path format "/school/" must contain %d`)

	_, err = New(fetch, Config{PathFormat: "/x/%d"}, zerolog.Nop())
	assert.EqualError(t, err, "at least one marker is required")

	p, err := New(fetch, DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestProbe_AgainstService(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()

	mock.SetPage("/school/298", testutil.NewHTMLResponse("Some School"))
	mock.SetPage("/school/5", testutil.NewHTMLResponse("Somewhere doesn't have any ratings yet"))
	mock.SetPage("/school/6", testutil.NewHTMLResponse("We couldn&#x27;t find the school you were looking for"))

	cfg := client.DefaultConfig()
	cfg.BaseURL = mock.URL()
	c, err := client.New(cfg)
	require.NoError(t, err)
	defer c.Close()

	p, err := New(c, DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	tests := []struct {
		id   int
		want Verdict
	}{
		{id: 298, want: Valid},
		{id: 5, want: NoData},
		{id: 6, want: NotFound},
		{id: 7, want: NotFound}, // unknown path answers 404
	}
	for _, tt := range tests {
		got, err := p.Probe(context.Background(), tt.id)
		require.NoError(t, err, "id %d", tt.id)
		assert.Equal(t, tt.want, got, "id %d", tt.id)
	}
	assert.Equal(t, 4, mock.GetPageCount())
}

func TestProbe_PropagatesFailures(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	mock.SetPage("/school/1", testutil.NewServerErrorResponse())

	cfg := client.DefaultConfig()
	cfg.BaseURL = mock.URL()
	cfg.RequestTimeout = time.Second
	c, err := client.New(cfg)
	require.NoError(t, err)
	defer c.Close()

	p, err := New(c, DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	_, err = p.Probe(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, client.ErrorClassServer, client.ClassOf(err))

	netErr := errors.New("connection reset")
	p, err = New(fetchFunc(func(context.Context, string) ([]byte, error) {
		return nil, &client.RequestError{Class: client.ErrorClassNetwork, Err: netErr}
	}), DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	_, err = p.Probe(context.Background(), 2)
	assert.ErrorIs(t, err, netErr)
	assert.Contains(t, err.Error(), "probe /school/2")
}

func TestProbe_PathFormat(t *testing.T) {
	var got string
	p, err := New(fetchFunc(func(_ context.Context, path string) ([]byte, error) {
		got = path
		return []byte("ok"), nil
	}), DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	v, err := p.Probe(context.Background(), 4021)
	require.NoError(t, err)
	assert.Equal(t, Valid, v)
	assert.Equal(t, "/school/4021", got)
}
