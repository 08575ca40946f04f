// Package vietqr builds NAPAS 247 (VietQR) merchant-presented QR payloads so a buyer's
// banking app can pre-fill the account, amount and transfer note.
package vietqr

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"
)

const (
	napasGUID        = "A000000727"
	serviceToAccount = "QRIBFTTA"
	currencyVND      = "704"
	countryVN        = "VN"
)

// maxPurposeLen is the EMVCo limit of the additional-data purpose field.
const maxPurposeLen = 25

// Currency is the only ISO 4217 currency a VietQR transfer can carry.
const Currency = "VND"

type Account struct {
	BankBIN       string
	AccountNumber string
}

// Payload returns the EMVCo string for a dynamic transfer of amount VND with the
// given purpose (the payment code). Callers holding amounts in another currency
// must not use it.
func Payload(acc Account, amount int64, purpose string) (string, error) {
	if acc.BankBIN == "" || acc.AccountNumber == "" {
		return "", fmt.Errorf("vietqr: bank BIN and account number are required")
	}
	if len(purpose) > maxPurposeLen {
		purpose = purpose[:maxPurposeLen]
	}

	beneficiary := tlv("00", acc.BankBIN) + tlv("01", acc.AccountNumber)
	merchant := tlv("00", napasGUID) + tlv("01", beneficiary) + tlv("02", serviceToAccount)

	var b strings.Builder
	b.WriteString(tlv("00", "01"))
	b.WriteString(tlv("01", "12"))
	b.WriteString(tlv("38", merchant))
	b.WriteString(tlv("53", currencyVND))
	if amount > 0 {
		b.WriteString(tlv("54", strconv.FormatInt(amount, 10)))
	}
	b.WriteString(tlv("58", countryVN))
	if purpose != "" {
		b.WriteString(tlv("62", tlv("08", purpose)))
	}
	b.WriteString("6304")
	b.WriteString(fmt.Sprintf("%04X", crc16(b.String())))
	return b.String(), nil
}

// RenderDataURI encodes payload as a PNG QR image in a data URI.
func RenderDataURI(payload string, size int) (string, error) {
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return "", err
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, qr.Image(size)); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func tlv(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

// crc16 is CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF) as EMVCo requires.
func crc16(data string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(data); i++ {
		crc ^= uint16(data[i]) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
