package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyLogLine(t *testing.T) {
	tests := []struct {
		line   string
		action Action
	}{
		{"[info] arib parser was created", ActionStandby},
		{"frame=  123 fps= 30 q=28.0 size=    1024kB", ActionONAir},
		{"HEVC encoding is not supported on current platform.", ActionOfflineFatal},
		{"Stream map '0:v:0' matches no streams.", ActionOffline},
		{"Conversion failed!", ActionRestart},
		{"Error while decoding stream #0:0: corrupt input", ActionNone},
		{"completely unrelated chatter", ActionNone},
	}
	for _, tt := range tests {
		action, _ := ClassifyLogLine(tt.line)
		assert.Equal(t, tt.action, action, "line %q", tt.line)
	}
}

func TestClassifyLogLineDetailIsJapanese(t *testing.T) {
	_, detail := ClassifyLogLine("HEVC encoding is not supported on current platform")
	assert.Equal(t, "お使いの環境では HEVC エンコードがサポートされていません。", detail)
}

func TestIsOffAirTitle(t *testing.T) {
	assert.True(t, IsOffAirTitle("放送休止"))
	assert.True(t, IsOffAirTitle("【放送終了】また明日"))
	assert.True(t, IsOffAirTitle("クロージング"))
	assert.False(t, IsOffAirTitle("ニュースウオッチ9"))
	assert.False(t, IsOffAirTitle(""))
}
