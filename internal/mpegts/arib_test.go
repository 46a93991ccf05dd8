package mpegts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeARIBKanji(t *testing.T) {
	// JIS X 0208 0x467c = 日, 0x4b5c = 本 via the default G0 kanji set.
	assert.Equal(t, "日本", DecodeARIBString([]byte{0x46, 0x7c, 0x4b, 0x5c}))
}

func TestDecodeARIBHiraganaGR(t *testing.T) {
	// GR defaults to G2 hiragana: てすと.
	assert.Equal(t, "てすと", DecodeARIBString([]byte{0xc6, 0xb9, 0xc8}))
}

func TestDecodeARIBAlnumShift(t *testing.T) {
	// LS1 switches GL to G1 alphanumerics.
	in := []byte{0x0e, 'N', 'H', 'K', 0x0f, 0x46, 0x7c}
	assert.Equal(t, "NHK日", DecodeARIBString(in))
}

func TestDecodeARIBKatakanaSingleShift(t *testing.T) {
	// SS3 picks G3 katakana for exactly one character: ア then 日.
	in := []byte{0x1d, 0x22, 0x46, 0x7c}
	assert.Equal(t, "ア日", DecodeARIBString(in))
}

func TestDecodeARIBControls(t *testing.T) {
	in := []byte{0x46, 0x7c, 0x0d, 0x20, 0x4b, 0x5c}
	assert.Equal(t, "日\n 本", DecodeARIBString(in))
}

func TestDecodeARIBEscapeDesignation(t *testing.T) {
	// ESC ( J designates G0 = alphanumerics.
	in := []byte{0x1b, 0x28, 0x4a, 'T', 'V'}
	assert.Equal(t, "TV", DecodeARIBString(in))
}

func TestDecodeARIBDropsGaiji(t *testing.T) {
	// Row 0x7a is ARIB gaiji territory with no JIS mapping.
	assert.Equal(t, "日", DecodeARIBString([]byte{0x7a, 0x50, 0x46, 0x7c}))
}

func TestGenreNames(t *testing.T) {
	major, middle := genreNames(0x3, 0x0, 0x0)
	assert.Equal(t, "ドラマ", major)
	assert.Equal(t, "国内ドラマ", middle)

	major, middle = genreNames(0x7, 0x0, 0x0)
	assert.Equal(t, "アニメ・特撮", major)
	assert.Equal(t, "国内アニメ", middle)

	// Extension genre is rewritten from the user nibble.
	major, middle = genreNames(0xe, 0x0, 0x1)
	assert.Equal(t, "拡張", major)
	assert.Equal(t, "延長の可能性あり", middle)

	// Unknown middle falls back.
	_, middle = genreNames(0x3, 0xa, 0x0)
	assert.Equal(t, "その他", middle)
}

func TestCleanDetailHeading(t *testing.T) {
	assert.Equal(t, "出演者", cleanDetailHeading("◇出演者"))
	assert.Equal(t, "あらすじ", cleanDetailHeading("あらすじ"))
}
