package trello

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c, err := NewClient(Config{BaseURL: ts.URL + "/", APIKey: "k", Token: "secret-token"})
	require.NoError(t, err)
	return c
}

func TestCreateCard(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/1/cards", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		assert.Equal(t, "secret-token", r.URL.Query().Get("token"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "list-1", r.PostForm.Get("idList"))
		assert.Equal(t, "Ana - Dev", r.PostForm.Get("name"))
		assert.Equal(t, "Candidato para a vaga: Dev", r.PostForm.Get("desc"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"card-9","name":"Ana - Dev","shortUrl":"https://trello.com/c/x"}`)
	})

	card, err := c.CreateCard(context.Background(), CardRequest{
		Name:        "Ana - Dev",
		Description: "Candidato para a vaga: Dev",
		ListID:      "list-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "card-9", card.ID)
}

func TestCreateCardStatusErrorHidesCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	})

	_, err := c.CreateCard(context.Background(), CardRequest{Name: "x", ListID: "l"})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.False(t, se.Retryable())
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestCreateCardRequiresList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request")
	})
	_, err := c.CreateCard(context.Background(), CardRequest{Name: "x"})
	require.Error(t, err)
}

func TestAttachFile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1/cards/card-9/attachments", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "Ana_Dev.pdf", hdr.Filename)
		assert.Equal(t, "%PDF-1.4", string(data))
		_, _ = io.WriteString(w, `{"id":"att-1"}`)
	})

	err := c.AttachFile(context.Background(), "card-9", "Ana_Dev.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
}

func TestAttachFileServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.AttachFile(context.Background(), "card-9", "a.pdf", strings.NewReader("x"))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Retryable())
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{APIKey: "k"})
	require.Error(t, err)
}
