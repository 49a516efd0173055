package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONDecodeValidation(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    Event
		wantErr error
	}{
		{
			name:  "user joined with identity",
			frame: `{"type":"user-joined","payload":{"id":"s1","role":"student","externalId":"IT21001","displayName":"Nimal"}}`,
			want:  UserJoined{ID: "s1", Role: RoleStudent, ExternalID: "IT21001", DisplayName: "Nimal"},
		},
		{
			name:  "user joined without identity",
			frame: `{"type":"user-joined","payload":{"id":"s1"}}`,
			want:  UserJoined{ID: "s1"},
		},
		{
			name:    "user joined without id",
			frame:   `{"type":"user-joined","payload":{}}`,
			wantErr: ErrInvalidEvent,
		},
		{
			name:    "existing users with blank id",
			frame:   `{"type":"existing-users","payload":{"users":[{"id":"a"},{"displayName":"x"}]}}`,
			wantErr: ErrInvalidEvent,
		},
		{
			name:    "signal without data",
			frame:   `{"type":"signal","payload":{"sender":"s1"}}`,
			wantErr: ErrInvalidEvent,
		},
		{
			name:    "join with unknown role",
			frame:   `{"type":"join-exam","payload":{"examId":"e1","role":"invigilator"}}`,
			wantErr: ErrInvalidEvent,
		},
		{
			name:    "help request without exam",
			frame:   `{"type":"student-help-request","payload":{"from":"s1"}}`,
			wantErr: ErrInvalidEvent,
		},
		{
			name:    "unknown type",
			frame:   `{"type":"screen-share","payload":{}}`,
			wantErr: ErrUnknownEvent,
		},
		{
			name:    "not json",
			frame:   `hello`,
			wantErr: ErrInvalidEvent,
		},
		{
			name:    "wrong field type",
			frame:   `{"type":"media-status","payload":{"webcam":"on","examId":"e1"}}`,
			wantErr: ErrInvalidEvent,
		},
		{
			name:  "media status",
			frame: `{"type":"media-status","payload":{"sender":"s1","webcam":true,"mic":false,"examId":"e1"}}`,
			want:  MediaStatus{Sender: "s1", Webcam: true, ExamID: "e1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JSONCodec{}.Decode([]byte(tt.frame))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSignalDataPassesThroughUnmodified(t *testing.T) {
	raw := `{"type":"offer","sdp":"v=0\r\no=- 4611 2 IN IP4 127.0.0.1\r\n","extra":{"keep":[1,2,3]}}`

	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			frame, err := codec.Encode(Signal{To: "a1", SignalData: SignalData(raw)})
			require.NoError(t, err)

			ev, err := codec.Decode(frame)
			require.NoError(t, err)

			sig, ok := ev.(Signal)
			require.True(t, ok)
			assert.Equal(t, "a1", sig.To)
			assert.JSONEq(t, raw, string(sig.SignalData))
			assert.Equal(t, SignalOffer, sig.SignalData.Kind())
		})
	}
}

func TestMsgpackDecodeValidation(t *testing.T) {
	frame, err := MsgpackCodec{}.Encode(UserLeft{})
	require.NoError(t, err)

	_, err = MsgpackCodec{}.Decode(frame)
	assert.ErrorIs(t, err, ErrInvalidEvent)

	frame, err = MsgpackCodec{}.Encode(PrivateMessage{To: "s1", Message: "Please face the camera", ParticipantID: "s1"})
	require.NoError(t, err)

	ev, err := MsgpackCodec{}.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, PrivateMessage{To: "s1", Message: "Please face the camera", ParticipantID: "s1"}, ev)
}

func TestSignalKind(t *testing.T) {
	tests := []struct {
		data string
		want SignalKind
	}{
		{data: `{"type":"offer","sdp":"x"}`, want: SignalOffer},
		{data: `{"type":"answer","sdp":"x"}`, want: SignalAnswer},
		{data: `{"candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}}`, want: SignalCandidate},
		{data: `{"candidate":null}`, want: SignalUnknown},
		{data: `{"renegotiate":true}`, want: SignalUnknown},
		{data: `[1,2]`, want: SignalUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, SignalData(tt.data).Kind())
		})
	}
}

func TestWithOrigin(t *testing.T) {
	ev := PrivateMessage{To: "a1", Message: "I need help"}
	stamped := ev.WithOrigin("s1").(PrivateMessage)

	assert.Equal(t, "s1", stamped.From)
	assert.Equal(t, "s1", stamped.ParticipantID)
	assert.Empty(t, ev.From)

	reply := PrivateMessage{To: "s1", Message: "ok", ParticipantID: "s1"}.WithOrigin("a1").(PrivateMessage)
	assert.Equal(t, "s1", reply.ParticipantID)
}

func TestNewCodec(t *testing.T) {
	c, err := NewCodec("msgpack")
	require.NoError(t, err)
	assert.Equal(t, "msgpack", c.Name())

	c, err = NewCodec("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	_, err = NewCodec("xml")
	assert.Error(t, err)
}
