package mpegts

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
)

// ARIB STD-B24 8-bit character decoding, covering the code sets that
// actually occur in EIT/SDT text: two-byte kanji (JIS X 0208), ASCII
// alphanumerics, hiragana, katakana, and JIS X 0201 katakana. ARIB
// gaiji symbols outside JIS X 0208 are dropped rather than guessed.

// character set kinds
const (
	setKanji = iota
	setAlnum
	setHiragana
	setKatakana
	setJISX0201Kana
	setMosaic
)

type aribCharset struct {
	kind  int
	multi bool // two-byte set
}

// DecodeARIBString converts ARIB-encoded SI text to UTF-8.
func DecodeARIBString(b []byte) string {
	// Initial designations per STD-B24 for SI text.
	g := [4]aribCharset{
		{kind: setKanji, multi: true},
		{kind: setAlnum},
		{kind: setHiragana},
		{kind: setKatakana},
	}
	gl, gr := 0, 2
	singleShift := -1

	var sb strings.Builder
	i := 0
	for i < len(b) {
		c := b[i]
		switch {
		case c == 0x0d:
			sb.WriteByte('\n')
			i++
		case c == 0x20:
			sb.WriteByte(' ')
			i++
		case c == 0xa0:
			sb.WriteByte(' ')
			i++
		case c == 0x0e: // LS1
			gl = 1
			i++
		case c == 0x0f: // LS0
			gl = 0
			i++
		case c == 0x19: // SS2
			singleShift = 2
			i++
		case c == 0x1d: // SS3
			singleShift = 3
			i++
		case c == 0x1b: // ESC
			n := decodeEscape(b[i:], &g, &gl, &gr)
			if n == 0 {
				n = 1
			}
			i += n
		case c >= 0x21 && c <= 0x7e:
			set := g[gl]
			if singleShift >= 0 {
				set = g[singleShift]
				singleShift = -1
			}
			i += emitChar(&sb, set, b[i:], 0)
		case c >= 0xa1 && c <= 0xfe:
			set := g[gr]
			if singleShift >= 0 {
				set = g[singleShift]
				singleShift = -1
			}
			i += emitChar(&sb, set, b[i:], 0x80)
		default:
			// Remaining C0/C1 controls (size, color, macros) carry no
			// text; skip them and their known parameters.
			i += controlLength(b[i:])
		}
	}
	return sb.String()
}

// emitChar decodes one character of set from b (mask strips the GR
// high bit) and returns the number of input bytes consumed.
func emitChar(sb *strings.Builder, set aribCharset, b []byte, mask byte) int {
	first := b[0] &^ mask
	if set.multi {
		if len(b) < 2 {
			return 1
		}
		second := b[1] &^ mask
		writeKanji(sb, first, second)
		return 2
	}
	switch set.kind {
	case setAlnum:
		sb.WriteByte(first)
	case setHiragana:
		writeKanaRow(sb, 0x3041, first)
	case setKatakana:
		writeKanaRow(sb, 0x30a1, first)
	case setJISX0201Kana:
		sb.WriteRune(rune(0xff61 + int(first) - 0x21))
	}
	return 1
}

// writeKanji decodes a JIS X 0208 ku-ten pair via EUC-JP. Rows above
// 84 are ARIB gaiji with no JIS mapping and are dropped.
func writeKanji(sb *strings.Builder, first, second byte) {
	if first < 0x21 || first > 0x74 {
		return
	}
	// Decoders are stateful, so one is made per pair rather than shared.
	out, err := japanese.EUCJP.NewDecoder().Bytes([]byte{first | 0x80, second | 0x80})
	if err != nil {
		return
	}
	r, _ := utf8.DecodeRune(out)
	if r != utf8.RuneError {
		sb.WriteRune(r)
	}
}

func writeKanaRow(sb *strings.Builder, base rune, code byte) {
	if code < 0x21 || code > 0x76 {
		return
	}
	sb.WriteRune(base + rune(code-0x21))
}

// decodeEscape applies an ESC designation sequence and returns its
// length, or 0 when the sequence is unrecognized.
func decodeEscape(b []byte, g *[4]aribCharset, gl, gr *int) int {
	if len(b) < 2 {
		return 0
	}
	switch b[1] {
	case 0x6e: // LS2
		*gl = 2
		return 2
	case 0x6f: // LS3
		*gl = 3
		return 2
	case 0x7e: // LS1R
		*gr = 1
		return 2
	case 0x7d: // LS2R
		*gr = 2
		return 2
	case 0x7c: // LS3R
		*gr = 3
		return 2
	case 0x24: // two-byte designation
		if len(b) < 3 {
			return 0
		}
		if b[2] >= 0x28 && b[2] <= 0x2b {
			if len(b) < 4 {
				return 0
			}
			g[b[2]-0x28] = charsetForFinal(b[3], true)
			return 4
		}
		g[0] = charsetForFinal(b[2], true)
		return 3
	case 0x28, 0x29, 0x2a, 0x2b: // one-byte designation
		if len(b) < 3 {
			return 0
		}
		if b[2] == 0x20 { // DRCS
			if len(b) < 4 {
				return 0
			}
			g[b[1]-0x28] = aribCharset{kind: setMosaic}
			return 4
		}
		g[b[1]-0x28] = charsetForFinal(b[2], false)
		return 3
	}
	return 2
}

func charsetForFinal(final byte, multi bool) aribCharset {
	switch final {
	case 0x42, 0x39, 0x3a, 0x3b: // kanji planes
		return aribCharset{kind: setKanji, multi: true}
	case 0x4a:
		return aribCharset{kind: setAlnum}
	case 0x30:
		return aribCharset{kind: setHiragana}
	case 0x31:
		return aribCharset{kind: setKatakana}
	case 0x49:
		return aribCharset{kind: setJISX0201Kana}
	default:
		if multi {
			return aribCharset{kind: setKanji, multi: true}
		}
		return aribCharset{kind: setMosaic}
	}
}

// controlLength returns how many bytes the control code at b[0]
// occupies, including fixed parameters.
func controlLength(b []byte) int {
	switch b[0] {
	case 0x8b, 0x90, 0x91, 0x92, 0x93, 0x94, 0x97, 0x98: // SZX, COL, FLC...
		if len(b) >= 2 {
			return 2
		}
	case 0x9d: // TIME
		if len(b) >= 3 {
			return 3
		}
	}
	return 1
}

// cleanDetailHeading strips the decorative "◇" prefix broadcasters
// put on extended event headings.
func cleanDetailHeading(h string) string {
	return strings.TrimPrefix(h, "◇")
}

// genreMajors indexes the ARIB content descriptor's major genre.
var genreMajors = [16]string{
	"ニュース・報道",
	"スポーツ",
	"情報・ワイドショー",
	"ドラマ",
	"音楽",
	"バラエティ",
	"映画",
	"アニメ・特撮",
	"ドキュメンタリー・教養",
	"劇場・公演",
	"趣味・教育",
	"福祉",
	"予備",
	"予備",
	"拡張",
	"その他",
}

// genreMiddles maps major -> middle nibble -> name.
var genreMiddles = map[uint8]map[uint8]string{
	0x0: {0x0: "定時・総合", 0x1: "天気", 0x2: "特集・ドキュメント", 0x3: "政治・国会", 0x4: "経済・市況", 0x5: "海外・国際", 0x6: "解説", 0x7: "討論・会談", 0x8: "報道特番", 0x9: "ローカル・地域", 0xa: "交通", 0xf: "その他"},
	0x1: {0x0: "スポーツニュース", 0x1: "野球", 0x2: "サッカー", 0x3: "ゴルフ", 0x4: "その他の球技", 0x5: "相撲・格闘技", 0x6: "オリンピック・国際大会", 0x7: "マラソン・陸上・水泳", 0x8: "モータースポーツ", 0x9: "マリン・ウィンタースポーツ", 0xa: "競馬・公営競技", 0xf: "その他"},
	0x2: {0x0: "芸能・ワイドショー", 0x1: "ファッション", 0x2: "暮らし・住まい", 0x3: "健康・医療", 0x4: "ショッピング・通販", 0x5: "グルメ・料理", 0x6: "イベント", 0x7: "番組紹介・お知らせ", 0xf: "その他"},
	0x3: {0x0: "国内ドラマ", 0x1: "海外ドラマ", 0x2: "時代劇", 0xf: "その他"},
	0x4: {0x0: "国内ロック・ポップス", 0x1: "海外ロック・ポップス", 0x2: "クラシック・オペラ", 0x3: "ジャズ・フュージョン", 0x4: "歌謡曲・演歌", 0x5: "ライブ・コンサート", 0x6: "ランキング・リクエスト", 0x7: "カラオケ・のど自慢", 0x8: "民謡・邦楽", 0x9: "童謡・キッズ", 0xa: "民族音楽・ワールドミュージック", 0xf: "その他"},
	0x5: {0x0: "クイズ", 0x1: "ゲーム", 0x2: "トークバラエティ", 0x3: "お笑い・コメディ", 0x4: "音楽バラエティ", 0x5: "旅バラエティ", 0x6: "料理バラエティ", 0xf: "その他"},
	0x6: {0x0: "洋画", 0x1: "邦画", 0x2: "アニメ", 0xf: "その他"},
	0x7: {0x0: "国内アニメ", 0x1: "海外アニメ", 0x2: "特撮", 0xf: "その他"},
	0x8: {0x0: "社会・時事", 0x1: "歴史・紀行", 0x2: "自然・動物・環境", 0x3: "宇宙・科学・医学", 0x4: "カルチャー・伝統文化", 0x5: "文学・文芸", 0x6: "スポーツ", 0x7: "ドキュメンタリー全般", 0x8: "インタビュー・討論", 0xf: "その他"},
	0x9: {0x0: "現代劇・新劇", 0x1: "ミュージカル", 0x2: "ダンス・バレエ", 0x3: "落語・演芸", 0x4: "歌舞伎・古典", 0xf: "その他"},
	0xa: {0x0: "旅・釣り・アウトドア", 0x1: "園芸・ペット・手芸", 0x2: "音楽・美術・工芸", 0x3: "囲碁・将棋", 0x4: "麻雀・パチンコ", 0x5: "車・オートバイ", 0x6: "コンピュータ・ＴＶゲーム", 0x7: "会話・語学", 0x8: "幼児・小学生", 0x9: "中学生・高校生", 0xa: "大学生・受験", 0xb: "生涯教育・資格", 0xc: "教育問題", 0xf: "その他"},
	0xb: {0x0: "高齢者", 0x1: "障害者", 0x2: "社会福祉", 0x3: "ボランティア", 0x4: "手話", 0x5: "文字（字幕）", 0x6: "音声解説", 0xf: "その他"},
	0xe: {0x0: "BS/地上デジタル放送用番組付属情報", 0x1: "広帯域CSデジタル放送用拡張", 0x2: "衛星デジタル音声放送用拡張", 0x3: "サーバー型番組付属情報", 0x4: "IP放送用番組付属情報"},
	0xf: {0xf: "その他"},
}

// extensionUserNibbles names the user nibble when the content
// descriptor points at BS/terrestrial program attachment info.
var extensionUserNibbles = map[uint8]string{
	0x0: "中止の可能性あり",
	0x1: "延長の可能性あり",
	0x2: "中断の可能性あり",
	0x3: "同一シリーズの別番組",
	0x4: "編成未定枠",
	0x5: "繰り上げの可能性あり",
}

// GenreNames resolves ARIB content nibbles to their display names,
// applying the same 拡張 user-nibble rewrite as the EIT parser.
func GenreNames(major, middle, user uint8) (string, string) {
	return genreNames(major, middle, user)
}

// genreNames resolves the major/middle names. The 拡張 major with
// attachment-info middle is rewritten using the user nibble so the
// stored genre stays meaningful.
func genreNames(major, middle, user uint8) (string, string) {
	majorName := genreMajors[major&0x0f]
	middleName := "その他"
	if m, ok := genreMiddles[major&0x0f]; ok {
		if name, ok := m[middle&0x0f]; ok {
			middleName = name
		}
	}
	if major == 0xe && middle == 0x0 {
		if name, ok := extensionUserNibbles[user&0x0f]; ok {
			middleName = name
		}
	}
	return majorName, middleName
}
