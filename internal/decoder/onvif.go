// ONVIF stream-URI resolution: a minimal SOAP client covering the single
// call chain FrameDecoder needs (GetCapabilities -> GetProfiles ->
// GetStreamUri), so a VideoSource may name an ONVIF device address instead
// of a pre-resolved RTSP URL.
package decoder

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type onvifClient struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

func newOnvifClient(xaddr, username, password string) (*onvifClient, error) {
	u, err := url.Parse(xaddr)
	if err != nil {
		return nil, err
	}
	return &onvifClient{
		baseURL:  u.String(),
		username: username,
		password: password,
		http:     &http.Client{Timeout: 2 * time.Second},
	}, nil
}

// resolveStreamURI walks GetCapabilities -> GetProfiles -> GetStreamUri
// against an ONVIF device address and returns the first profile's RTSP URI.
func resolveStreamURI(ctx context.Context, xaddr, username, password string) (string, error) {
	dev, err := newOnvifClient(xaddr, username, password)
	if err != nil {
		return "", fmt.Errorf("onvif: invalid device address: %w", err)
	}

	_, mediaXAddr, err := dev.getCapabilities(ctx)
	if err != nil {
		return "", fmt.Errorf("onvif: GetCapabilities: %w", err)
	}
	if mediaXAddr == "" {
		mediaXAddr = xaddr
	}

	profiles, err := dev.getProfiles(ctx, mediaXAddr)
	if err != nil {
		return "", fmt.Errorf("onvif: GetProfiles: %w", err)
	}
	if len(profiles) == 0 {
		return "", fmt.Errorf("onvif: device %s advertised no media profiles", xaddr)
	}

	streamURI, err := dev.getStreamURI(ctx, mediaXAddr, profiles[0].Token)
	if err != nil {
		return "", fmt.Errorf("onvif: GetStreamUri: %w", err)
	}
	if streamURI == "" {
		return "", fmt.Errorf("onvif: empty stream URI for profile %s", profiles[0].Token)
	}
	return streamURI, nil
}

func (c *onvifClient) getCapabilities(ctx context.Context) (map[string]bool, string, error) {
	reqBody := `<tds:GetCapabilities xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
		<tds:Category>All</tds:Category>
	</tds:GetCapabilities>`

	resp, err := c.do(ctx, reqBody)
	if err != nil {
		return nil, "", err
	}

	var caps struct {
		Body struct {
			GetCapabilitiesResponse struct {
				Capabilities struct {
					Media struct {
						XAddr string `xml:"XAddr"`
					} `xml:"Media"`
					Events struct {
						XAddr string `xml:"XAddr"`
					} `xml:"Events"`
				} `xml:"Capabilities"`
			} `xml:"GetCapabilitiesResponse"`
		}
	}
	if err := xml.Unmarshal(resp, &caps); err != nil {
		return nil, "", err
	}

	features := make(map[string]bool)
	if caps.Body.GetCapabilitiesResponse.Capabilities.Media.XAddr != "" {
		features["Media"] = true
	}
	if caps.Body.GetCapabilitiesResponse.Capabilities.Events.XAddr != "" {
		features["Events"] = true
	}
	return features, caps.Body.GetCapabilitiesResponse.Capabilities.Media.XAddr, nil
}

type onvifMediaProfile struct {
	Token string `xml:"token,attr"`
}

func (c *onvifClient) getProfiles(ctx context.Context, mediaXAddr string) ([]onvifMediaProfile, error) {
	mediaClient := c
	if mediaXAddr != "" && mediaXAddr != c.baseURL {
		if mc, err := newOnvifClient(mediaXAddr, c.username, c.password); err == nil {
			mediaClient = mc
		}
	}

	resp, err := mediaClient.do(ctx, `<trt:GetProfiles xmlns:trt="http://www.onvif.org/ver10/media/wsdl"/>`)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Body struct {
			GetProfilesResponse struct {
				Profiles []onvifMediaProfile `xml:"Profiles"`
			} `xml:"GetProfilesResponse"`
		}
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return nil, err
	}
	return parsed.Body.GetProfilesResponse.Profiles, nil
}

func (c *onvifClient) getStreamURI(ctx context.Context, mediaXAddr, token string) (string, error) {
	mediaClient := c
	if mediaXAddr != "" && mediaXAddr != c.baseURL {
		if mc, err := newOnvifClient(mediaXAddr, c.username, c.password); err == nil {
			mediaClient = mc
		}
	}

	reqBody := fmt.Sprintf(`<trt:GetStreamUri xmlns:trt="http://www.onvif.org/ver10/media/wsdl">
		<trt:StreamSetup>
			<trt:Stream xmlns:tt="http://www.onvif.org/ver10/schema">tt:RTP-Unicast</trt:Stream>
			<trt:Transport xmlns:tt="http://www.onvif.org/ver10/schema">
				<tt:Protocol>tt:RTSP</tt:Protocol>
			</trt:Transport>
		</trt:StreamSetup>
		<trt:ProfileToken>%s</trt:ProfileToken>
	</trt:GetStreamUri>`, token)

	resp, err := mediaClient.do(ctx, reqBody)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Body struct {
			GetStreamUriResponse struct {
				MediaUri struct {
					Uri string `xml:"Uri"`
				} `xml:"MediaUri"`
			} `xml:"GetStreamUriResponse"`
		}
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return "", err
	}
	return parsed.Body.GetStreamUriResponse.MediaUri.Uri, nil
}

func (c *onvifClient) do(ctx context.Context, bodyInner string) ([]byte, error) {
	envelope := `<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
	<s:Header>%s</s:Header>
	<s:Body>%s</s:Body>
</s:Envelope>`

	payload := fmt.Sprintf(envelope, c.securityHeader(), bodyInner)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBufferString(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `application/soap+xml; charset=utf-8; action=""`)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("onvif error %d: %s", resp.StatusCode, string(errBytes))
	}
	return io.ReadAll(resp.Body)
}

func (c *onvifClient) securityHeader() string {
	if c.username == "" {
		return ""
	}
	nonceStr := fmt.Sprintf("%d", time.Now().UnixNano())
	nonce := base64.StdEncoding.EncodeToString([]byte(nonceStr))
	created := time.Now().UTC().Format(time.RFC3339)
	digest := soapPasswordDigest(nonceStr, created, c.password)

	return fmt.Sprintf(`<Security xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
		<UsernameToken>
			<Username>%s</Username>
			<Password Type="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest">%s</Password>
			<Nonce EncodingType="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary">%s</Nonce>
			<Created xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">%s</Created>
		</UsernameToken>
	</Security>`, c.username, digest, nonce, created)
}

func soapPasswordDigest(nonce, created, password string) string {
	h := sha1.New()
	h.Write([]byte(nonce))
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
