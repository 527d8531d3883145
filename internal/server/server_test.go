package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/optionledger/optiond/internal/optiontest"
)

func newTestServer(t *testing.T) (*optiontest.Env, *httptest.Server) {
	t.Helper()
	env := optiontest.New(t)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s := New(Config{Listen: "127.0.0.1:0"}, env.Reg, env.Ledger, env.Book, env.Pool, logrus.NewEntry(logger))

	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return env, ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestCreateAndGet(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/options", map[string]interface{}{
		"caller": "trader",
		"amount": 1_000_000,
		"meta":   "via api",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	var created struct {
		PositionID uint64 `json:"position_id"`
	}
	decodeBody(t, resp, &created)
	require.NotZero(t, created.PositionID)

	resp, err := http.Get(fmt.Sprintf("%s/v1/options/%d", ts.URL, created.PositionID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pos struct {
		Owner  string `json:"owner"`
		Units  uint64 `json:"units"`
		Amount int64  `json:"amount"`
		State  string `json:"state"`
		Meta   string `json:"meta"`
	}
	decodeBody(t, resp, &pos)
	require.Equal(t, "trader", pos.Owner)
	require.Equal(t, uint64(1_000_000), pos.Units)
	require.Equal(t, int64(1_000_000), pos.Amount)
	require.Equal(t, "active", pos.State)
	require.Equal(t, "via api", pos.Meta)
}

func TestSplitMergeTransfer(t *testing.T) {
	env, ts := newTestServer(t)
	id := env.Create(t, 1_000_000)

	resp := postJSON(t, fmt.Sprintf("%s/v1/options/%d/split", ts.URL, id), map[string]interface{}{
		"caller": "trader",
		"units":  []uint64{400_000, 100_000},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var split struct {
		PositionIDs []uint64 `json:"position_ids"`
	}
	decodeBody(t, resp, &split)
	require.Len(t, split.PositionIDs, 2)

	resp = postJSON(t, fmt.Sprintf("%s/v1/options/%d/transfer", ts.URL, split.PositionIDs[0]), map[string]interface{}{
		"caller": "trader",
		"from":   "trader",
		"to":     "bob",
		"units":  50_000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, fmt.Sprintf("%s/v1/options/%d/merge", ts.URL, id), map[string]interface{}{
		"caller":     "trader",
		"source_ids": []uint64{split.PositionIDs[1]},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	t.Run("merging a burned source is not found", func(t *testing.T) {
		resp := postJSON(t, fmt.Sprintf("%s/v1/options/%d/merge", ts.URL, id), map[string]interface{}{
			"caller":     "trader",
			"source_ids": []uint64{split.PositionIDs[1]},
		})
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("foreign caller is forbidden", func(t *testing.T) {
		resp := postJSON(t, fmt.Sprintf("%s/v1/options/%d/split", ts.URL, id), map[string]interface{}{
			"caller": "mallory",
			"units":  []uint64{1},
		})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestExerciseAndUnlock(t *testing.T) {
	env, ts := newTestServer(t)
	id := env.Create(t, 1_000_000)

	t.Run("same step conflicts", func(t *testing.T) {
		resp := postJSON(t, fmt.Sprintf("%s/v1/options/%d/exercise", ts.URL, id), map[string]interface{}{
			"caller": "trader",
		})
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()
	})

	env.Clock.Mine(1)
	resp := postJSON(t, fmt.Sprintf("%s/v1/options/%d/exercise", ts.URL, id), map[string]interface{}{
		"caller": "trader",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ex struct {
		Profit int64 `json:"profit"`
	}
	decodeBody(t, resp, &ex)
	require.Equal(t, int64(166_666), ex.Profit)

	second := env.Create(t, 100_000)
	t.Run("unlock before expiry conflicts", func(t *testing.T) {
		resp := postJSON(t, fmt.Sprintf("%s/v1/options/%d/unlock", ts.URL, second), nil)
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()
	})

	env.Clock.Advance(25 * time.Hour)
	resp = postJSON(t, fmt.Sprintf("%s/v1/options/%d/unlock", ts.URL, second), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestPoolEndpoint(t *testing.T) {
	env, ts := newTestServer(t)
	env.Create(t, 1_000_000)

	resp, err := http.Get(ts.URL + "/v1/pool")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var p struct {
		TotalBalance  int64 `json:"total_balance"`
		LockedBalance int64 `json:"locked_balance"`
	}
	decodeBody(t, resp, &p)
	require.Equal(t, int64(10_001_000), p.TotalBalance)
	require.Equal(t, int64(1_000_000), p.LockedBalance)
}

func TestAccountsAndProvide(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/accounts/carol/fund", map[string]interface{}{"amount": 5_000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bal struct {
		Balance int64 `json:"balance"`
	}
	decodeBody(t, resp, &bal)
	require.Equal(t, int64(5_000), bal.Balance)

	resp = postJSON(t, ts.URL+"/v1/pool/provide", map[string]interface{}{
		"provider": "carol",
		"amount":   4_000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/accounts/carol/approve", map[string]interface{}{
		"spender": "registry",
		"amount":  1_000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var allow struct {
		Allowance int64 `json:"allowance"`
	}
	decodeBody(t, resp, &allow)
	require.Equal(t, int64(1_000), allow.Allowance)

	resp, err := http.Get(ts.URL + "/v1/accounts/carol")
	require.NoError(t, err)
	decodeBody(t, resp, &bal)
	require.Equal(t, int64(1_000), bal.Balance)
}

func TestUnknownPosition(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v1/options/999")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestNegativeAmountsRejected(t *testing.T) {
	env, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/pool/provide", map[string]interface{}{
		"provider": "attacker",
		"amount":   -500_000,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/accounts/attacker/fund", map[string]interface{}{"amount": -1})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/accounts/attacker/approve", map[string]interface{}{
		"spender": "registry",
		"amount":  -1,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	require.Equal(t, int64(0), env.Book.BalanceOf("attacker").Int64())
	require.Equal(t, int64(10_000_000), env.Pool.TotalBalance().Int64())
}
