package metadata

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/hisui-tv/hisui/internal/models"
)

// sidecarPath swaps the recording's extension for the sidecar's,
// e.g. "rec.ts" + ".psc" -> "rec.psc".
func sidecarPath(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// chapterLine matches one MKV chapter timestamp line,
// "CHAPTER01=00:01:30.000".
var chapterLine = regexp.MustCompile(`^CHAPTER(\d+)=(\d+):(\d{2}):(\d{2})\.(\d{3})\s*$`)

// chapterNameLine matches "CHAPTER01NAME=CM".
var chapterNameLine = regexp.MustCompile(`^CHAPTER(\d+)NAME=(.*?)\s*$`)

type chapter struct {
	seconds float64
	name    string
}

// ParseCMSections reads the recording's `.chapter.txt` sidecar and
// extracts commercial breaks: a chapter whose name marks a CM opens a
// section that runs to the next chapter, or to the recording's end.
func ParseCMSections(recordingPath string, totalDuration float64) (models.CMSectionList, error) {
	data, err := os.ReadFile(sidecarPath(recordingPath, ".chapter.txt"))
	if err != nil {
		return nil, err
	}
	return parseChapterCM(data, totalDuration), nil
}

func parseChapterCM(data []byte, totalDuration float64) models.CMSectionList {
	times := map[string]float64{}
	names := map[string]string{}
	var order []string

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimPrefix(scanner.Text(), "\uFEFF")
		if m := chapterLine.FindStringSubmatch(line); m != nil {
			h, _ := strconv.Atoi(m[2])
			min, _ := strconv.Atoi(m[3])
			sec, _ := strconv.Atoi(m[4])
			ms, _ := strconv.Atoi(m[5])
			times[m[1]] = float64(h)*3600 + float64(min)*60 + float64(sec) + float64(ms)/1000
			order = append(order, m[1])
		} else if m := chapterNameLine.FindStringSubmatch(line); m != nil {
			names[m[1]] = m[2]
		}
	}

	var chapters []chapter
	for _, id := range order {
		chapters = append(chapters, chapter{seconds: times[id], name: names[id]})
	}

	var sections models.CMSectionList
	for i, ch := range chapters {
		if !isCMChapterName(ch.name) {
			continue
		}
		end := totalDuration
		if i+1 < len(chapters) {
			end = chapters[i+1].seconds
		}
		if end > ch.seconds {
			sections = append(sections, models.CMSection{
				StartSeconds: ch.seconds,
				EndSeconds:   end,
			})
		}
	}
	return sections
}

// isCMChapterName reports whether a chapter name marks a commercial
// break. Chapter generators label CM chapters "CM", "CM 1", "CM-2"
// and so on; body chapters carry the program title or "Main".
func isCMChapterName(name string) bool {
	upper := strings.ToUpper(strings.TrimSpace(name))
	return upper == "CM" || strings.HasPrefix(upper, "CM ") || strings.HasPrefix(upper, "CM-")
}

// ProgramText is the parsed `.program.txt` sidecar, the EDCB dump of
// the recorded event.
type ProgramText struct {
	Title       string
	ServiceName string
	Description string
}

// ParseProgramText reads the `.program.txt` sidecar. The dump starts
// with the air date line, then the service name, then the title; the
// rest is free-form description.
func ParseProgramText(recordingPath string) (*ProgramText, error) {
	data, err := os.ReadFile(sidecarPath(recordingPath, ".program.txt"))
	if err != nil {
		return nil, err
	}
	return parseProgramText(data), nil
}

func parseProgramText(data []byte) *ProgramText {
	// EDCB writes UTF-16LE with a BOM; older builds wrote UTF-8.
	if len(data) >= 2 && data[0] == 0xff && data[1] == 0xfe {
		if decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(data); err == nil {
			data = decoded
		}
	}
	data = bytes.TrimPrefix(data, []byte("\uFEFF"))

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}

	pt := &ProgramText{}
	if len(lines) > 1 {
		pt.ServiceName = lines[1]
	}
	if len(lines) > 2 {
		pt.Title = lines[2]
	}
	if len(lines) > 3 {
		pt.Description = strings.TrimSpace(strings.Join(lines[3:], "\n"))
	}
	return pt
}
