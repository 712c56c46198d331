package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"conflux-trader/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatClientAdvise(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		assert.False(t, req.Stream)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, SystemPrompt, req.Messages[0].Content)
			assert.Contains(t, req.Messages[1].Content, "Current price is $42000.50")
			assert.Contains(t, req.Messages[1].Content, "probability of 0.6123")
		}
		_ = json.NewEncoder(w).Encode(chatResponse{Message: chatMessage{Role: "assistant", Content: " Buy\n"}})
	}))
	defer srv.Close()

	adv := New(Config{Enabled: true, BaseURL: srv.URL, Model: "llama3", APIKey: "secret", Timeout: time.Second}, nil)
	reply, err := adv.Advise(context.Background(), Request{Price: 42000.5, Probability: 0.61234})
	require.NoError(t, err)

	action, ok := ParseAdvice(reply)
	assert.True(t, ok)
	assert.Equal(t, model.ActionBuy, action)
}

func TestChatClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	adv := New(Config{Enabled: true, BaseURL: srv.URL, Model: "m", Timeout: time.Second}, nil)
	_, err := adv.Advise(context.Background(), Request{})
	assert.Error(t, err)
}

func TestNewFallsBackToUnavailable(t *testing.T) {
	adv := New(Config{Enabled: false}, nil)
	_, err := adv.Advise(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrUnavailable)

	adv = New(Config{Enabled: true, BaseURL: "", Model: "m"}, nil)
	_, ok := adv.(Unavailable)
	assert.True(t, ok)
	_, err = adv.Advise(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestParseAdvice(t *testing.T) {
	cases := map[string]struct {
		want model.Action
		ok   bool
	}{
		"buy":            {model.ActionBuy, true},
		"  SELL ":        {model.ActionSell, true},
		"Hold\n":         {model.ActionHold, true},
		"buy now":        {model.ActionHold, false},
		"I would buy":    {model.ActionHold, false},
		"":               {model.ActionHold, false},
		"'buy'":          {model.ActionHold, false},
	}
	for in, tc := range cases {
		got, ok := ParseAdvice(in)
		assert.Equal(t, tc.ok, ok, in)
		if ok {
			assert.Equal(t, tc.want, got, in)
		}
	}
}
