package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIBKRAdapter_ListContractMonths(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/contracts/ES/months", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":[
			{"contractMonth":"203003","lastTradeDate":"2030-03-15","conid":101},
			{"contractMonth":"20300620","lastTradeDate":"2030-06-21","conid":102},
			{"contractMonth":"203009","lastTradeDate":"bogus","conid":103}
		]}`))
	}))
	defer ts.Close()

	adapter := NewIBKRAdapter(ts.URL, "tok", zerolog.Nop())
	months, err := adapter.ListContractMonths(context.Background(), "ES")
	require.NoError(t, err)

	require.Len(t, months, 2, "unparseable last trade dates are skipped")
	assert.Equal(t, "203003", months[0].ContractMonth)
	assert.Equal(t, time.Date(2030, 3, 15, 0, 0, 0, 0, time.UTC), months[0].LastTradeDate)
	assert.Equal(t, "203006", months[1].ContractMonth, "YYYYMMDD expiries reduce to contract month")
	assert.Equal(t, int64(102), months[1].ConID)
}
