package layergroup

import (
	"errors"
	"testing"
)

const sampleDigest = "e34dd7e235138a062f8ba7ad051aa3a7"

func TestToken_String(t *testing.T) {
	if got := NewToken(sampleDigest, 1234567890123, true).String(); got != sampleDigest+":1234567890123" {
		t.Fatalf("got %q", got)
	}
	if got := NewToken(sampleDigest, 0, false).String(); got != sampleDigest {
		t.Fatalf("got %q", got)
	}
}

func TestParseRef_CacheBusterIgnored(t *testing.T) {
	for _, in := range []string{sampleDigest, sampleDigest + ":cb0", sampleDigest + ":1234567890123"} {
		ref, err := ParseRef(in)
		if err != nil {
			t.Fatalf("ParseRef(%q): %v", in, err)
		}
		if ref.Digest != sampleDigest {
			t.Fatalf("ParseRef(%q) digest=%q", in, ref.Digest)
		}
	}
}

func TestParseRef_MalformedIsNotFound(t *testing.T) {
	for _, in := range []string{"", "abc", "E34DD7E235138A062F8BA7AD051AA3A7", sampleDigest + "00"} {
		if _, err := ParseRef(in); !errors.Is(err, ErrNotFound) {
			t.Fatalf("ParseRef(%q) err=%v want ErrNotFound", in, err)
		}
	}
}
