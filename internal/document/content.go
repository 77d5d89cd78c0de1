package document

import (
	"strconv"
	"strings"
)

// decodeContentText 从页面内容流中取出文本显示操作符(Tj, TJ, ', ")的字符串
func decodeContentText(stream []byte) string {
	var (
		out      strings.Builder
		operands []string
		inArray  bool
		arrayBuf strings.Builder
	)

	newline := func() {
		s := out.String()
		if len(s) > 0 && !strings.HasSuffix(s, "\n") {
			out.WriteByte('\n')
		}
	}

	for i := 0; i < len(stream); {
		c := stream[i]
		switch {
		case c == '%':
			for i < len(stream) && stream[i] != '\n' && stream[i] != '\r' {
				i++
			}
		case c == '(':
			s, next := readLiteral(stream, i)
			i = next
			if inArray {
				arrayBuf.WriteString(s)
			} else {
				operands = append(operands, s)
			}
		case c == '<' && i+1 < len(stream) && stream[i+1] == '<':
			i += 2
		case c == '>' && i+1 < len(stream) && stream[i+1] == '>':
			i += 2
		case c == '<':
			s, next := readHex(stream, i)
			i = next
			if inArray {
				arrayBuf.WriteString(s)
			} else {
				operands = append(operands, s)
			}
		case c == '/':
			i++
			for i < len(stream) && !isSpace(stream[i]) && !isDelim(stream[i]) {
				i++
			}
		case c == '[':
			inArray = true
			arrayBuf.Reset()
			i++
		case c == ']':
			inArray = false
			operands = append(operands, arrayBuf.String())
			i++
		case isSpace(c):
			i++
		default:
			start := i
			for i < len(stream) && !isSpace(stream[i]) && !isDelim(stream[i]) {
				i++
			}
			if i == start {
				i++
				continue
			}
			tok := string(stream[start:i])

			if inArray {
				// TJ数组中较大的负偏移视为词间空格
				if n, err := strconv.ParseFloat(tok, 64); err == nil && n < -200 {
					arrayBuf.WriteByte(' ')
				}
				continue
			}
			if _, err := strconv.ParseFloat(tok, 64); err == nil {
				continue
			}

			switch tok {
			case "Tj", "TJ":
				if len(operands) > 0 {
					out.WriteString(operands[len(operands)-1])
				}
			case "'", "\"":
				newline()
				if len(operands) > 0 {
					out.WriteString(operands[len(operands)-1])
				}
			case "T*", "Td", "TD", "ET":
				newline()
			}
			operands = operands[:0]
		}
	}

	return strings.TrimSpace(out.String())
}

// readLiteral 读取以'('开头的字面字符串，返回解码结果与下一个位置
func readLiteral(b []byte, i int) (string, int) {
	var sb strings.Builder
	depth := 0
	for i < len(b) {
		c := b[i]
		switch c {
		case '(':
			if depth > 0 {
				sb.WriteByte(c)
			}
			depth++
			i++
		case ')':
			depth--
			i++
			if depth == 0 {
				return latin1(sb.String()), i
			}
			sb.WriteByte(c)
		case '\\':
			i++
			if i >= len(b) {
				break
			}
			e := b[i]
			switch e {
			case 'n':
				sb.WriteByte('\n')
				i++
			case 'r':
				sb.WriteByte('\r')
				i++
			case 't':
				sb.WriteByte('\t')
				i++
			case 'b':
				sb.WriteByte('\b')
				i++
			case 'f':
				sb.WriteByte('\f')
				i++
			case '\r', '\n':
				// 续行
				i++
				if e == '\r' && i < len(b) && b[i] == '\n' {
					i++
				}
			default:
				if e >= '0' && e <= '7' {
					v := 0
					for k := 0; k < 3 && i < len(b) && b[i] >= '0' && b[i] <= '7'; k++ {
						v = v*8 + int(b[i]-'0')
						i++
					}
					sb.WriteByte(byte(v))
				} else {
					sb.WriteByte(e)
					i++
				}
			}
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return latin1(sb.String()), i
}

// readHex 读取<...>十六进制字符串
func readHex(b []byte, i int) (string, int) {
	i++
	var digits []byte
	for i < len(b) && b[i] != '>' {
		if !isSpace(b[i]) {
			digits = append(digits, b[i])
		}
		i++
	}
	i++
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}

	raw := make([]byte, 0, len(digits)/2)
	for k := 0; k+1 < len(digits); k += 2 {
		v, err := strconv.ParseUint(string(digits[k:k+2]), 16, 8)
		if err != nil {
			return "", i
		}
		raw = append(raw, byte(v))
	}

	// 双字节编码(如Identity-H)无法在没有CMap时还原，只保留可打印字节
	var sb strings.Builder
	for _, c := range raw {
		if c >= 0x20 {
			sb.WriteByte(c)
		}
	}
	return latin1(sb.String()), i
}

// latin1 把单字节编码按Latin-1映射为UTF-8
func latin1(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		sb.WriteRune(rune(s[i]))
	}
	return sb.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}
