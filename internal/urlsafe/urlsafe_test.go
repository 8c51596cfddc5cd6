package urlsafe

import (
	"context"
	"errors"
	"net"
	"testing"
)

type fakeResolver map[string][]net.IP

func (f fakeResolver) LookupIP(_ context.Context, _ string, host string) ([]net.IP, error) {
	ips, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return ips, nil
}

func TestIsSafe(t *testing.T) {
	v := &Validator{Resolver: fakeResolver{
		"example.com":        {net.ParseIP("93.184.216.34")},
		"intranet.example":   {net.ParseIP("10.0.0.7")},
		"mixed.example":      {net.ParseIP("93.184.216.34"), net.ParseIP("192.168.1.1")},
		"v6-public.example":  {net.ParseIP("2606:2800:220:1:248:1893:25c8:1946")},
		"v6-private.example": {net.ParseIP("fd00::1")},
	}}

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{name: "empty", url: "", want: false},
		{name: "whitespace", url: "   ", want: false},
		{name: "loopback literal", url: "http://127.0.0.1/x", want: false},
		{name: "loopback range", url: "http://127.8.9.10/", want: false},
		{name: "ten net", url: "http://10.1.2.3/", want: false},
		{name: "one nine two", url: "http://192.168.0.5/", want: false},
		{name: "one seven two low", url: "http://172.16.0.1/", want: false},
		{name: "one seven two high", url: "http://172.31.255.255/", want: false},
		{name: "one seven two outside", url: "http://172.32.0.1/", want: true},
		{name: "localhost", url: "http://localhost/", want: false},
		{name: "localhost subdomain", url: "http://app.localhost:3000/", want: false},
		{name: "ipv6 loopback", url: "http://[::1]/", want: false},
		{name: "unspecified", url: "http://0.0.0.0/", want: false},
		{name: "ftp scheme", url: "ftp://example.com", want: false},
		{name: "no scheme", url: "example.com/recipe", want: false},
		{name: "missing host", url: "http:///path", want: false},
		{name: "public https", url: "https://example.com/recipes/pie", want: true},
		{name: "public http upper", url: "HTTP://EXAMPLE.COM/", want: true},
		{name: "resolves private", url: "https://intranet.example/", want: false},
		{name: "any private address", url: "https://mixed.example/", want: false},
		{name: "unresolvable", url: "https://nowhere.invalid/", want: false},
		{name: "public v6", url: "https://v6-public.example/", want: true},
		{name: "private v6", url: "https://v6-private.example/", want: false},
		{name: "malformed", url: "http://%zz/", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.IsSafe(context.Background(), tt.url); got != tt.want {
				t.Fatalf("IsSafe(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}
