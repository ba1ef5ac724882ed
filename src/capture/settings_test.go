package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rematch-coach/rematch-coach/src/configs"
)

func defaultCaptureForTest() configs.Capture {
	return configs.NewConfig().Capture
}

func TestSelectEncoder(t *testing.T) {
	tests := []struct {
		name     string
		encoders []EncoderData
		want     string
	}{
		{
			name: "hardware beats software",
			encoders: []EncoderData{
				{Name: EncoderX264, Enabled: true},
				{Name: EncoderNvidiaNvenc, Enabled: true},
			},
			want: EncoderNvidiaNvenc,
		},
		{
			name: "disabled encoders are skipped",
			encoders: []EncoderData{
				{Name: EncoderNvidiaNvenc, Enabled: false},
				{Name: EncoderAMDAMF, Enabled: true},
			},
			want: EncoderAMDAMF,
		},
		{
			name: "amd over intel",
			encoders: []EncoderData{
				{Name: EncoderIntel, Enabled: true},
				{Name: EncoderAMDAMF, Enabled: true},
			},
			want: EncoderAMDAMF,
		},
		{
			name: "nvenc variants tie on enumeration order",
			encoders: []EncoderData{
				{Name: EncoderNvidiaNvencNew, Enabled: true},
				{Name: EncoderNvidiaNvenc, Enabled: true},
			},
			want: EncoderNvidiaNvencNew,
		},
		{
			name: "unknown encoder still usable when alone",
			encoders: []EncoderData{
				{Name: "APPLE_VT", Enabled: true},
			},
			want: "APPLE_VT",
		},
		{
			name: "known encoder beats unknown",
			encoders: []EncoderData{
				{Name: "APPLE_VT", Enabled: true},
				{Name: EncoderX264, Enabled: true},
			},
			want: EncoderX264,
		},
		{
			name:     "no encoders falls back to x264",
			encoders: nil,
			want:     EncoderX264,
		},
		{
			name: "all disabled falls back to x264",
			encoders: []EncoderData{
				{Name: EncoderNvidiaNvenc, Enabled: false},
			},
			want: EncoderX264,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, selectEncoder(tt.encoders))
		})
	}
}

func TestMapReason(t *testing.T) {
	assert.Equal(t, ErrNotInGame, MapReason("NotInGame"))
	assert.Equal(t, ErrOutOfDiskSpace, MapReason("Out_Of_Disk_Space"))
	assert.Equal(t, ErrNoPermission, MapReason("NoPermission"))
	assert.Equal(t, ErrAlreadyInProgress, MapReason("StreamingInProgress"))
	assert.Error(t, MapReason(""))
	assert.Error(t, MapReason("SomethingElse"))
}

func TestSettingsFromConfig(t *testing.T) {
	s := settingsFromConfig(defaultCaptureForTest())
	assert.Equal(t, 1920, s.Width)
	assert.Equal(t, 30, s.Fps)
	assert.True(t, s.Audio.GameAudioEnable)
	assert.Equal(t, "Recordings", s.SubFolderName)
	assert.Empty(t, s.Encoder)
}
