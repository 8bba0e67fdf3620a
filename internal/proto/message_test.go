package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	in, perr := Decode([]byte(`{"type":"new_message","data":{"recipient":"b@example.com","content":"hi"}}`))
	require.Nil(t, perr)
	assert.Equal(t, InboundTypeNewMessage, in.Type)

	var msg NewMessageData
	require.Nil(t, DecodeData(in.Data, &msg))
	assert.Equal(t, "b@example.com", msg.Recipient)
	assert.Equal(t, "hi", msg.Content)
	assert.Nil(t, msg.ReplyTo)
}

func TestDecodePingWithoutData(t *testing.T) {
	in, perr := Decode([]byte(`{"type":"ping"}`))
	require.Nil(t, perr)
	assert.Equal(t, InboundTypePing, in.Type)
	assert.JSONEq(t, `{}`, string(in.Data))
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"type":`,
		"array":        `[1,2]`,
		"missing type": `{"data":{}}`,
		"numeric type": `{"type":5}`,
		"scalar data":  `{"type":"typing","data":"x"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, perr := Decode([]byte(raw))
			require.NotNil(t, perr)
			assert.Equal(t, CodeBadRequest, perr.Code)
		})
	}
}

func TestDecodeDataIsStrict(t *testing.T) {
	var mark MarkData
	perr := DecodeData([]byte(`{"message_id":"m1","sender":"a@example.com","extra":1}`), &mark)
	require.NotNil(t, perr)
	assert.Equal(t, CodeBadRequest, perr.Code)

	var typing TypingData
	perr = DecodeData([]byte(`{"recipient":"b@example.com","is_typing":"yes"}`), &typing)
	require.NotNil(t, perr)
	assert.Contains(t, perr.Message, "is_typing")

	typing = TypingData{}
	require.Nil(t, DecodeData([]byte(`{"recipient":"b@example.com"}`), &typing))
	assert.Nil(t, typing.IsTyping)
}
