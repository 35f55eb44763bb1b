// Package extract pulls phone numbers with country codes out of free text.
package extract

import (
	"regexp"
	"strings"
)

// Number is a phone number split into the country code the registration
// API expects and the national part.
type Number struct {
	CC    string `json:"cc"`
	Phone string `json:"phone"`
}

// Full returns the number as country code followed by the national part.
func (n Number) Full() string {
	return n.CC + n.Phone
}

// Length limits for the national part.
const (
	MinPhoneDigits = 7
	MaxPhoneDigits = 15
)

// northAmerica is the code the API uses for +1 numbers.
const northAmerica = "11"

var (
	plusPattern  = regexp.MustCompile(`\+\s*(\d{1,4})\s*([\d\s\-\.\(\)]+)`)
	digitPattern = regexp.MustCompile(`\d+`)
	nonDigit     = regexp.MustCompile(`\D`)
)

var countryCodes = toSet(`
	7 20 27 30 31 32 33 34 36 39 40 41 43 44 45 46 47 48 49 51 52 53 54 55 56 57 58
	60 61 62 63 64 65 66 81 82 84 86 90 91 92 93 94 95 98
	212 213 216 218 220 221 222 223 224 225 226 227 228 229 230 231 232 233 234 235
	236 237 238 239 240 241 242 243 244 245 246 247 248 249 250 251 252 253 254 255
	256 257 258 260 261 262 263 264 265 266 267 268 269 290 291 297 298 299
	350 351 352 353 354 355 356 357 358 359 370 371 372 373 374 375 376 377 378 379
	380 381 382 383 385 386 387 389 420 421 423
	500 501 502 503 504 505 506 507 508 509 590 591 592 593 594 595 596 597 598 599
	670 672 673 674 675 676 677 678 679 680 681 682 683 685 686 687 688 689 690 691 692
	850 852 853 855 856 880 886
	960 961 962 963 964 965 966 967 968 970 971 972 973 974 975 976 977
	992 993 994 995 996 998
`)

func toSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range strings.Fields(s) {
		set[f] = true
	}
	return set
}

// KnownCC reports whether cc is a country code the API accepts. "11" is the
// API's spelling of +1.
func KnownCC(cc string) bool {
	return cc == northAmerica || countryCodes[cc]
}

func validLength(phone string) bool {
	return len(phone) >= MinPhoneDigits && len(phone) <= MaxPhoneDigits
}

// Numbers extracts every distinct number in text. Numbers written with a
// leading "+" take precedence; bare digit runs are only considered when no
// such number is present. When one number is contained in another, only
// the longer one is kept.
func Numbers(text string) []Number {
	found := plusNumbers(text)
	if len(found) == 0 {
		found = bareNumbers(text)
	}
	return dedup(found)
}

func plusNumbers(text string) []Number {
	var out []Number
	for _, m := range plusPattern.FindAllStringSubmatch(text, -1) {
		cc := m[1]
		phone := nonDigit.ReplaceAllString(m[2], "")
		if cc == "1" {
			cc = northAmerica
		}
		if KnownCC(cc) && validLength(phone) {
			out = append(out, Number{CC: cc, Phone: phone})
			continue
		}
		// "+22947879817" captures "2294" as the code; retry on the joined digits
		if n, ok := splitCC(m[1]+phone, false); ok {
			out = append(out, n)
		}
	}
	return out
}

func bareNumbers(text string) []Number {
	var out []Number
	for _, digits := range digitPattern.FindAllString(text, -1) {
		if len(digits) < 10 {
			continue
		}
		if n, ok := splitCC(digits, true); ok {
			out = append(out, n)
			continue
		}
		out = append(out, Number{CC: northAmerica, Phone: digits})
	}
	return out
}

// splitCC tries the longest known country-code prefix of digits. With
// bare set, a leading 1 is always taken as +1.
func splitCC(digits string, bare bool) (Number, bool) {
	if bare && strings.HasPrefix(digits, "1") && len(digits) == 11 {
		return Number{CC: northAmerica, Phone: digits[1:]}, true
	}
	for l := 4; l >= 1; l-- {
		if len(digits) <= l {
			continue
		}
		cc, phone := digits[:l], digits[l:]
		if cc == "1" {
			if bare || validLength(phone) {
				return Number{CC: northAmerica, Phone: phone}, true
			}
			continue
		}
		if countryCodes[cc] && validLength(phone) {
			return Number{CC: cc, Phone: phone}, true
		}
	}
	return Number{}, false
}

func dedup(in []Number) []Number {
	var out []Number
	for _, n := range in {
		replaced := false
		skip := false
		for i, kept := range out {
			if kept.Phone == n.Phone {
				skip = true
				break
			}
			if strings.Contains(kept.Phone, n.Phone) || strings.Contains(n.Phone, kept.Phone) {
				if len(n.Phone) > len(kept.Phone) {
					out[i] = n
					replaced = true
				} else {
					skip = true
				}
				break
			}
		}
		if !skip && !replaced {
			out = append(out, n)
		}
	}
	return out
}
