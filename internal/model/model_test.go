package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemanticTypeUnmarshal(t *testing.T) {
	tests := []struct {
		raw  string
		want SemanticType
	}{
		{`"FLOAT"`, TypeFloat},
		{`"Boolean"`, TypeBoolean},
		{`"bit"`, TypeBit},
		{`"long"`, TypeLong},
		{`1`, TypeInt},
		{`4`, TypeString},
		{`42`, TypeUnspecified},
		{`"OBJECT"`, TypeUnspecified},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var got SemanticType
			require.NoError(t, jsonStd.Unmarshal([]byte(tt.raw), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSemanticTypeMarshalUsesName(t *testing.T) {
	b, err := jsonStd.Marshal(AttributeMetadata{Name: "tv", DataType: TypeFloat})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"tv","dataType":"FLOAT"}`, string(b))

	var back AttributeMetadata
	require.NoError(t, jsonStd.Unmarshal(b, &back))
	assert.Equal(t, TypeFloat, back.DataType)

	assert.Error(t, jsonStd.Unmarshal([]byte(`{"T":true}`), &struct{ T SemanticType }{}))
}

func TestAttributesResponseDecode(t *testing.T) {
	var resp AttributesResponse
	err := jsonStd.Unmarshal([]byte(`{"data":[{"name":"tv","dataType":"FLOAT"},{"name":"fan","dataType":6}]}`), &resp)
	require.NoError(t, err)
	assert.Equal(t, []AttributeMetadata{
		{Name: "tv", DataType: TypeFloat},
		{Name: "fan", DataType: TypeBit},
	}, resp.Data)
}

func TestCommandMessageAckToken(t *testing.T) {
	empty := ""
	token := "abc"

	_, ok := CommandMessage{Command: "reboot.sh"}.AckToken()
	assert.False(t, ok)

	_, ok = CommandMessage{Command: "reboot.sh", Ack: &empty}.AckToken()
	assert.False(t, ok)

	got, ok := CommandMessage{Command: "reboot.sh", Ack: &token}.AckToken()
	assert.True(t, ok)
	assert.Equal(t, "abc", got)
}

func TestMarshalTelemetryDropsNonFinite(t *testing.T) {
	records := []TelemetryRecord{{
		UniqueID: "dev-1",
		Time:     "2026-01-02T03:04:05.000Z",
		Data: map[string]any{
			"nan":    math.NaN(),
			"inf":    math.Inf(1),
			"ok":     1.5,
			"nested": map[string]any{"x": math.Inf(-1)},
		},
	}}

	out, err := MarshalTelemetry(records)
	require.NoError(t, err)
	assert.JSONEq(t,
		`[{"uniqueId":"dev-1","time":"2026-01-02T03:04:05.000Z","data":{"nan":null,"inf":null,"ok":1.5,"nested":{"x":null}}}]`,
		string(out))
	assert.True(t, math.IsNaN(records[0].Data["nan"].(float64)), "input must not be mutated")
}
