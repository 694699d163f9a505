package decoders

import (
	"fmt"
	"strings"

	"github.com/danmuck/modemctl/internal/protocol/parcel"
)

const toneDigits = "0123456789*#ABCD"

// ValidDigit reports whether d is a signaling tone digit.
func ValidDigit(d byte) bool {
	return strings.IndexByte(toneDigits, d) >= 0
}

// ToneArgs encodes the DTMF_START argument.
func ToneArgs(digit byte) ([]byte, error) {
	if !ValidDigit(digit) {
		return nil, fmt.Errorf("decoders: invalid tone digit %q", digit)
	}
	return parcel.NewWriter().String(string(digit)).Encoded(), nil
}

// DialArgs encodes a DIAL request. clir 0 uses the subscription default.
func DialArgs(number string, clir int32) []byte {
	return parcel.NewWriter().String(number).Int32(clir).Encoded()
}

func HangupArgs(index int32) []byte {
	return parcel.NewWriter().Int32s(index).Encoded()
}

func RadioPowerArgs(on bool) []byte {
	return parcel.NewWriter().Int32s(boolWord(on)).Encoded()
}

func SeparateConnectionArgs(index int32) []byte {
	return parcel.NewWriter().Int32s(index).Encoded()
}

// SMSArgs encodes SEND_SMS; smsc may be empty for the default center.
func SMSArgs(smsc, pdu string) []byte {
	w := parcel.NewWriter().Int32(2)
	if smsc == "" {
		w.NullString()
	} else {
		w.String(smsc)
	}
	return w.String(pdu).Encoded()
}

func boolWord(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
