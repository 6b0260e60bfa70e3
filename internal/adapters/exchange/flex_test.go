package exchange

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlexFloatAcceptsQuotedAndBare(t *testing.T) {
	var v struct {
		Px flexFloat `json:"px"`
		Sz flexFloat `json:"sz"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"px":"2000.5","sz":1.5}`), &v))
	require.Equal(t, flexFloat(2000.5), v.Px)
	require.Equal(t, flexFloat(1.5), v.Sz)

	require.NoError(t, json.Unmarshal([]byte(`{"px":null,"sz":""}`), &v))
	require.Zero(t, v.Px)
	require.Zero(t, v.Sz)

	require.Error(t, json.Unmarshal([]byte(`{"px":"abc"}`), &v))
}

func TestFlexIntAcceptsFloatTimestamps(t *testing.T) {
	var v struct {
		Time flexInt `json:"time"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"time":"1700000000123"}`), &v))
	require.Equal(t, flexInt(1700000000123), v.Time)

	require.NoError(t, json.Unmarshal([]byte(`{"time":1700000000.5}`), &v))
	require.Equal(t, flexInt(1700000000), v.Time)
}
