package encoder

import "strings"

// Action is what a classified encoder log line asks the supervisor to
// do with the stream.
type Action int

const (
	// ActionNone: ordinary noise.
	ActionNone Action = iota
	// ActionStandby: the pipeline came up far enough to start feeding.
	ActionStandby
	// ActionONAir: encoded output is flowing.
	ActionONAir
	// ActionRestart: transient failure worth another attempt.
	ActionRestart
	// ActionOffline: this run cannot work (bad input), no retry.
	ActionOffline
	// ActionOfflineFatal: the platform cannot encode this profile at
	// all; retrying is pointless.
	ActionOfflineFatal
)

type logPattern struct {
	substr string
	action Action
	detail string
}

// logPatterns maps known encoder stderr substrings to transitions.
// First match wins.
var logPatterns = []logPattern{
	{"arib parser was created", ActionStandby, "エンコードを開始しています…"},
	{"Application startup complete", ActionONAir, ""},
	{"frame=", ActionONAir, ""},
	{"fps: ", ActionONAir, ""},
	{"HEVC encoding is not supported on current platform", ActionOfflineFatal,
		"お使いの環境では HEVC エンコードがサポートされていません。"},
	{"Stream map '0:v:0' matches no streams", ActionOffline,
		"このチャンネルでは映像ストリームを検出できませんでした。"},
	{"Failed to initialize encoder", ActionOfflineFatal,
		"エンコーダーの初期化に失敗しました。"},
	{"Unable to find a suitable output format", ActionOffline,
		"エンコーダーが出力フォーマットを認識できませんでした。"},
	{"Conversion failed!", ActionRestart, "エンコードに失敗しました。再起動します…"},
	{"Error while decoding stream", ActionNone, ""}, // routine on broadcast glitches
}

// ClassifyLogLine inspects one stderr line and returns the transition
// it implies.
func ClassifyLogLine(line string) (Action, string) {
	for _, p := range logPatterns {
		if strings.Contains(line, p.substr) {
			return p.action, p.detail
		}
	}
	return ActionNone, ""
}

// offAirTitlePatterns mark program titles broadcast during station
// downtime, used to tell "off-air" from "receive error".
var offAirTitlePatterns = []string{
	"放送休止",
	"放送終了",
	"休止",
	"停波",
	"クロージング",
	"オープニング",
}

// IsOffAirTitle reports whether a program title indicates planned
// downtime rather than a reception problem.
func IsOffAirTitle(title string) bool {
	for _, p := range offAirTitlePatterns {
		if strings.Contains(title, p) {
			return true
		}
	}
	return false
}
