package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSidecarPath(t *testing.T) {
	assert.Equal(t, "/rec/foo.psc", sidecarPath("/rec/foo.ts", ".psc"))
	assert.Equal(t, "/rec/foo.chapter.txt", sidecarPath("/rec/foo.m2ts", ".chapter.txt"))
}

func TestParseChapterCM(t *testing.T) {
	data := []byte(
		"\uFEFFCHAPTER01=00:00:00.000\n" +
			"CHAPTER01NAME=CM\n" +
			"CHAPTER02=00:01:30.500\n" +
			"CHAPTER02NAME=Main\n" +
			"CHAPTER03=00:11:30.500\n" +
			"CHAPTER03NAME=CM 2\n" +
			"CHAPTER04=00:12:45.000\n" +
			"CHAPTER04NAME=Main\n")

	sections := parseChapterCM(data, 30*60)
	require.Len(t, sections, 2)
	assert.Equal(t, 0.0, sections[0].StartSeconds)
	assert.Equal(t, 90.5, sections[0].EndSeconds)
	assert.Equal(t, 690.5, sections[1].StartSeconds)
	assert.Equal(t, 765.0, sections[1].EndSeconds)
}

func TestParseChapterCMTrailingCM(t *testing.T) {
	data := []byte(
		"CHAPTER01=00:00:00.000\n" +
			"CHAPTER01NAME=Main\n" +
			"CHAPTER02=00:28:00.000\n" +
			"CHAPTER02NAME=CM\n")

	sections := parseChapterCM(data, 30*60)
	require.Len(t, sections, 1)
	assert.Equal(t, 1680.0, sections[0].StartSeconds)
	assert.Equal(t, 1800.0, sections[0].EndSeconds)
}

func TestParseChapterCMNoChapters(t *testing.T) {
	assert.Empty(t, parseChapterCM([]byte("not a chapter file"), 100))
}

func TestParseProgramText(t *testing.T) {
	data := []byte(
		"\uFEFF2026/08/24(月) 21:00～21:54\n" +
			"テレビ東京1\n" +
			"ドラマスペシャル\n" +
			"出演者についての詳細\n" +
			"続きの行\n")

	pt := parseProgramText(data)
	assert.Equal(t, "テレビ東京1", pt.ServiceName)
	assert.Equal(t, "ドラマスペシャル", pt.Title)
	assert.Equal(t, "出演者についての詳細\n続きの行", pt.Description)
}

func TestParseProgramTextUTF16(t *testing.T) {
	src := "2026/08/24 21:00\nNHK総合\nニュース\n"
	var data []byte
	data = append(data, 0xff, 0xfe)
	for _, r := range src {
		data = append(data, byte(r), byte(r>>8))
	}

	pt := parseProgramText(data)
	assert.Equal(t, "NHK総合", pt.ServiceName)
	assert.Equal(t, "ニュース", pt.Title)
}

func TestBiasRecordingStart(t *testing.T) {
	start := time.Date(2026, 8, 24, 21, 0, 0, 0, time.UTC)

	// duration 1800.750 s -> remainder 750 ms -> bias 375 ms back.
	biased := BiasRecordingStart(start, 1800.750)
	assert.Equal(t, start.Add(-375*time.Millisecond), biased)

	// Whole-second durations need no bias.
	assert.Equal(t, start, BiasRecordingStart(start, 1800))
}
