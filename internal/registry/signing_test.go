package registry

import (
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestSignAWSRequest(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	newReq := func() *http.Request {
		req, err := http.NewRequest(http.MethodGet,
			"https://iot.eu-west-2.amazonaws.com/things?maxResults=10", nil)
		if err != nil {
			t.Fatalf("building request: %v", err)
		}
		return req
	}

	t.Run("sets signature headers", func(t *testing.T) {
		req := newReq()
		if err := signAWSRequest(req, "AKIA", "secret", "eu-west-2", "execute-api", now); err != nil {
			t.Fatalf("signAWSRequest: %v", err)
		}

		auth := req.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIA/20260815/eu-west-2/execute-api/aws4_request") {
			t.Errorf("Authorization = %q", auth)
		}
		if !strings.Contains(auth, "SignedHeaders=host;x-amz-date") {
			t.Errorf("Authorization missing signed headers: %q", auth)
		}
		if req.Header.Get("X-Amz-Date") != "20260815T120000Z" {
			t.Errorf("X-Amz-Date = %q", req.Header.Get("X-Amz-Date"))
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		a, b := newReq(), newReq()
		signAWSRequest(a, "AKIA", "secret", "eu-west-2", "execute-api", now)
		signAWSRequest(b, "AKIA", "secret", "eu-west-2", "execute-api", now)
		if a.Header.Get("Authorization") != b.Header.Get("Authorization") {
			t.Error("identical requests produced different signatures")
		}
	})

	t.Run("key changes signature", func(t *testing.T) {
		a, b := newReq(), newReq()
		signAWSRequest(a, "AKIA", "secret", "eu-west-2", "execute-api", now)
		signAWSRequest(b, "AKIA", "other", "eu-west-2", "execute-api", now)
		if a.Header.Get("Authorization") == b.Header.Get("Authorization") {
			t.Error("different keys produced identical signatures")
		}
	})
}

func TestURIEncode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc-123_~.", "abc-123_~."},
		{"a b", "a%20b"},
		{"a/b", "a%2Fb"},
		{"a=b&c", "a%3Db%26c"},
	}
	for _, tt := range tests {
		if got := uriEncode(tt.in); got != tt.want {
			t.Errorf("uriEncode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAzureSASToken(t *testing.T) {
	expiry := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	token := azureSASToken("hub.azure-devices.net", "iothubowner", []byte("secret-key"), expiry)

	if !strings.HasPrefix(token, "SharedAccessSignature sr=hub.azure-devices.net") {
		t.Errorf("token = %q", token)
	}
	if !strings.Contains(token, "&skn=iothubowner") {
		t.Errorf("token missing policy name: %q", token)
	}
	wantSE := "&se=" + strconv.FormatInt(expiry.Unix(), 10)
	if !strings.Contains(token, wantSE) {
		t.Errorf("token missing expiry %q: %q", wantSE, token)
	}

	other := azureSASToken("hub.azure-devices.net", "iothubowner", []byte("other-key"), expiry)
	if token == other {
		t.Error("different keys produced identical tokens")
	}
}
