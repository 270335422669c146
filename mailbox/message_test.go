package mailbox

import (
	"strings"
	"testing"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestExtractHTMLSinglePart(t *testing.T) {
	raw := crlf(`From: reports@example.com
Subject: Daily Management Report
Content-Type: text/html; charset=utf-8

<html><body><table><tr><td>STOCK TRADING ACCOUNT</td></tr></table></body></html>
`)
	html, ok, err := ExtractHTML(raw)
	if err != nil || !ok {
		t.Fatalf("ExtractHTML = ok %v, err %v", ok, err)
	}
	if !strings.Contains(html, "STOCK TRADING ACCOUNT") {
		t.Fatalf("unexpected html %q", html)
	}
}

func TestExtractHTMLMultipartQuotedPrintable(t *testing.T) {
	raw := crlf(`From: reports@example.com
Subject: Report
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/plain; charset=utf-8

plain version
--inner
Content-Type: text/html; charset=utf-8
Content-Transfer-Encoding: quoted-printable

<table class=3D"r"><tr><td>Daily Management Report</td></tr></table>
--inner--
--outer--
`)
	html, ok, err := ExtractHTML(raw)
	if err != nil || !ok {
		t.Fatalf("ExtractHTML = ok %v, err %v", ok, err)
	}
	if !strings.Contains(html, `class="r"`) {
		t.Fatalf("quoted-printable not decoded: %q", html)
	}
	if strings.Contains(html, "plain version") {
		t.Fatal("picked the text/plain part")
	}
}

func TestExtractHTMLDeclaredCharset(t *testing.T) {
	raw := crlf("Subject: Report\nContent-Type: text/html; charset=iso-8859-1\n\n<p>Caf\xe9 Pharmacy</p>\n")
	html, ok, err := ExtractHTML(raw)
	if err != nil || !ok {
		t.Fatalf("ExtractHTML = ok %v, err %v", ok, err)
	}
	if !strings.Contains(html, "Café Pharmacy") {
		t.Fatalf("charset not decoded: %q", html)
	}
}

func TestExtractHTMLUnknownCharsetFallsBackToUTF8(t *testing.T) {
	raw := crlf("Subject: Report\nContent-Type: text/html; charset=x-made-up\n\n<p>ok \xff done</p>\n")
	html, ok, err := ExtractHTML(raw)
	if err != nil || !ok {
		t.Fatalf("ExtractHTML = ok %v, err %v", ok, err)
	}
	if !strings.Contains(html, "ok \uFFFD done") {
		t.Fatalf("invalid bytes not replaced: %q", html)
	}
}

func TestExtractHTMLNoHTMLPart(t *testing.T) {
	raw := crlf(`Subject: Daily Management Report
Content-Type: text/plain; charset=utf-8

no tables here
`)
	_, ok, err := ExtractHTML(raw)
	if err != nil {
		t.Fatalf("ExtractHTML: %v", err)
	}
	if ok {
		t.Fatal("expected no html part")
	}
}

func TestIsDailyReport(t *testing.T) {
	tests := []struct {
		subject, html string
		want          bool
	}{
		{"Daily Management Report - REITZ", "", true},
		{"FW: report", "<p>Daily Management Report</p>", true},
		{"FW: report", "<p>Weekly summary</p>", false},
		{"Statement", "", false},
	}
	for _, tt := range tests {
		if got := IsDailyReport(tt.subject, tt.html); got != tt.want {
			t.Errorf("IsDailyReport(%q, %q) = %v, want %v", tt.subject, tt.html, got, tt.want)
		}
	}
}
