package decoder

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOnvifDevice serves the three SOAP calls resolveStreamURI chains
// through, in the order it calls them, regardless of which XAddr the
// caller posts to (the test server stands in for both device and media
// services).
func fakeOnvifDevice(t *testing.T, streamURI string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readAll(t, r)
		w.Header().Set("Content-Type", "application/soap+xml")
		switch {
		case strings.Contains(body, "GetCapabilities"):
			w.Write([]byte(`<?xml version="1.0"?><s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body>
				<GetCapabilitiesResponse><Capabilities><Media><XAddr>` + r.Host + `/media</XAddr></Media></Capabilities></GetCapabilitiesResponse>
			</s:Body></s:Envelope>`))
		case strings.Contains(body, "GetProfiles"):
			w.Write([]byte(`<?xml version="1.0"?><s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body>
				<GetProfilesResponse><Profiles token="profile_1"></Profiles></GetProfilesResponse>
			</s:Body></s:Envelope>`))
		case strings.Contains(body, "GetStreamUri"):
			w.Write([]byte(`<?xml version="1.0"?><s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body>
				<GetStreamUriResponse><MediaUri><Uri>` + streamURI + `</Uri></MediaUri></GetStreamUriResponse>
			</s:Body></s:Envelope>`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
}

func readAll(t *testing.T, r *http.Request) string {
	t.Helper()
	b, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return string(b)
}

func TestResolveStreamURI_HappyPath(t *testing.T) {
	srv := fakeOnvifDevice(t, "rtsp://cam.example/stream1")
	defer srv.Close()

	uri, err := resolveStreamURI(context.Background(), srv.URL, "admin", "pass")
	require.NoError(t, err)
	assert.Equal(t, "rtsp://cam.example/stream1", uri)
}

func TestResolveStreamURI_NoProfiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readAll(t, r)
		switch {
		case strings.Contains(body, "GetCapabilities"):
			w.Write([]byte(`<?xml version="1.0"?><s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body>
				<GetCapabilitiesResponse><Capabilities><Media><XAddr></XAddr></Media></Capabilities></GetCapabilitiesResponse>
			</s:Body></s:Envelope>`))
		case strings.Contains(body, "GetProfiles"):
			w.Write([]byte(`<?xml version="1.0"?><s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body>
				<GetProfilesResponse></GetProfilesResponse>
			</s:Body></s:Envelope>`))
		}
	}))
	defer srv.Close()

	_, err := resolveStreamURI(context.Background(), srv.URL, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no media profiles")
}

func TestResolveStreamURI_InvalidAddress(t *testing.T) {
	_, err := resolveStreamURI(context.Background(), "://bad-url", "", "")
	require.Error(t, err)
}
