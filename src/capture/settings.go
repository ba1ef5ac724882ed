package capture

import (
	"sort"

	"github.com/rematch-coach/rematch-coach/src/configs"
)

// AudioSettings is the audio slice of the stream settings; it can also be
// applied to a running stream via ChangeVolume.
type AudioSettings struct {
	MicEnable       bool   `json:"mic_enable"`
	MicVolume       int    `json:"mic_volume"`
	MicDevice       string `json:"mic_device"`
	GameAudioEnable bool   `json:"game_audio_enable"`
	GameAudioVolume int    `json:"game_audio_volume"`
	GameAudioDevice string `json:"game_audio_device"`
}

// StreamSettings is everything the provider needs to start a stream.
type StreamSettings struct {
	Width            int           `json:"width"`
	Height           int           `json:"height"`
	Fps              int           `json:"fps"`
	MaxKbps          int           `json:"max_kbps"`
	Encoder          string        `json:"encoder"`
	Audio            AudioSettings `json:"audio"`
	SubFolderName    string        `json:"sub_folder_name"`
	MaxFileSizeBytes int64         `json:"max_file_size_bytes"`
	IncludeFullSize  bool          `json:"include_full_size"`
	CaptureCursor    string        `json:"capture_cursor"`
}

// settingsFromConfig builds StreamSettings from the capture section of the
// config, leaving Encoder for selectEncoder to fill in.
func settingsFromConfig(c configs.Capture) StreamSettings {
	return StreamSettings{
		Width:   c.Width,
		Height:  c.Height,
		Fps:     c.Fps,
		MaxKbps: c.MaxKbps,
		Encoder: c.Encoder,
		Audio: AudioSettings{
			MicEnable:       c.MicEnable,
			MicVolume:       c.MicVolume,
			MicDevice:       c.MicDevice,
			GameAudioEnable: c.GameAudioEnable,
			GameAudioVolume: c.GameAudioVolume,
			GameAudioDevice: c.GameAudioDevice,
		},
		SubFolderName:    c.SubFolderName,
		MaxFileSizeBytes: c.MaxFileSizeBytes,
		CaptureCursor:    c.CaptureCursor,
	}
}

// Lower rank wins. Unknown encoders rank below everything we recognize but
// above nothing: they are still usable when nothing better is enabled.
var encoderRank = map[string]int{
	EncoderNvidiaNvenc:    1,
	EncoderNvidiaNvencNew: 1,
	EncoderAMDAMF:         2,
	EncoderIntel:          3,
	EncoderX264:           4,
}

const unknownEncoderRank = 5

// selectEncoder picks the best enabled encoder, preferring hardware encoders
// over software x264. Ties keep the provider's enumeration order. With no
// usable encoder it falls back to x264 and lets the provider complain.
func selectEncoder(encoders []EncoderData) string {
	usable := make([]EncoderData, 0, len(encoders))
	for _, e := range encoders {
		if e.Enabled {
			usable = append(usable, e)
		}
	}
	if len(usable) == 0 {
		return EncoderX264
	}
	sort.SliceStable(usable, func(i, j int) bool {
		return rankOf(usable[i].Name) < rankOf(usable[j].Name)
	})
	return usable[0].Name
}

func rankOf(name string) int {
	if r, ok := encoderRank[name]; ok {
		return r
	}
	return unknownEncoderRank
}
