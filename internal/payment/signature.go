package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/storefront/internal/apperror"
)

// SignatureHeader carries the webhook signature.
const SignatureHeader = "Stripe-Signature"

// VerifySignature checks a webhook signature header of the form
//
//	t=<unix seconds>,v1=<hex hmac>[,v1=<hex hmac>...]
//
// Each v1 value is HMAC-SHA256(secret, "<t>.<payload>"). Any matching v1
// passes; several are sent while a secret is being rolled. A timestamp
// further than tolerance from now is rejected; tolerance 0 disables the check.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return apperror.InvalidSignature("missing signature header")
	}
	if secret == "" {
		return apperror.InvalidSignature("webhook secret not configured")
	}

	var (
		ts         int64
		haveTS     bool
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return apperror.InvalidSignature("invalid signature timestamp")
			}
			ts, haveTS = n, true
		case "v1":
			sig, err := hex.DecodeString(v)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	if !haveTS {
		return apperror.InvalidSignature("signature header has no timestamp")
	}
	if len(signatures) == 0 {
		return apperror.InvalidSignature("signature header has no v1 signature")
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age < 0 {
			age = -age
		}
		if age > tolerance {
			return apperror.InvalidSignature("signature timestamp outside tolerance")
		}
	}

	expected := computeSignature(payload, secret, ts)
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return apperror.InvalidSignature("signature mismatch")
}

// Sign builds a signature header for payload at ts. Used by tests and by
// operators replaying events against a local server.
func Sign(payload []byte, secret string, ts time.Time) string {
	sig := computeSignature(payload, secret, ts.Unix())
	return "t=" + strconv.FormatInt(ts.Unix(), 10) + ",v1=" + hex.EncodeToString(sig)
}

func computeSignature(payload []byte, secret string, ts int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
