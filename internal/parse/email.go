package parse

import (
	"regexp"
	"strings"
)

var (
	commentPattern    = regexp.MustCompile(`(?s)<!--.*?-->`)
	emailPattern      = regexp.MustCompile(`([\w.\-+]{1,64})@(\w[\w.\-]{1,255})\.(\w+)`)
	obfuscatedPattern = regexp.MustCompile(`(?i)([\w.\-+]{1,64})\s?.?AT.?\s?([\w.\-]{1,255})\s?.?DOT.?\s?(\w+)`)
	digitPattern      = regexp.MustCompile(`\d`)
)

// mediaExtensions are file extensions that look like top level domains in
// strings such as "logo@2x.png".
var mediaExtensions = map[string]struct{}{}

func init() {
	for _, ext := range strings.Fields(`ai aif aifc aiff asc avi bcpio bin c cc
		ccad cdf class cpio cpt csh css csv dcr dir dms doc drw dvi dwg dxf dxr
		eps etx exe ez f f90 fli flv gif gtar gz h hdf hh hqx ice ico ief iges
		igs imq ips ipx jpe jpeg jpg js kar latex lha lsp lzh m man me mesh mid
		midi mif mime mov movie mp2 mp3 mpe mpeg mpg mpga ms msh nc oda pbm pdb
		pdf pgm pgn png pnm pot ppm pps ppt ppz pre prt ps qt ra ram ras raw rgb
		rm roff rpm rtf rtx scm set sgm sgml sh shar silo sit skd skm skp skt smi
		smil snd sol spl src step stl stp sv4cpio sv4crc swf t tar tcl tex texi
		tif tiff tr tsi tsp tsv unv ustar vcd vda viv vivo vrml w2p wav webp wmv
		wrl xbm xlc xll xlm xls xlw xml xpm xsl xwd xyz zip`) {
		mediaExtensions[ext] = struct{}{}
	}
}

// ExtractEmails returns the unique email addresses in html, in order of
// appearance. HTML comments and mailto prefixes are removed first, and
// spelled out forms such as "info AT example DOT com" are recognised.
// Addresses listed in ignored are dropped.
func ExtractEmails(html string, ignored ...string) []string {
	if html == "" {
		return nil
	}
	html = commentPattern.ReplaceAllString(html, "")
	html = strings.ReplaceAll(html, "mailto:", "")

	var emails []string
	seen := make(map[string]struct{})
	for _, re := range []*regexp.Regexp{emailPattern, obfuscatedPattern} {
		for _, m := range re.FindAllStringSubmatch(html, -1) {
			user, domain, ext := m[1], m[2], m[3]
			if !plausibleEmail(domain, ext) {
				continue
			}
			email := user + "@" + domain + "." + ext
			if _, ok := seen[email]; ok {
				continue
			}
			seen[email] = struct{}{}
			emails = append(emails, email)
		}
	}

	if len(ignored) == 0 {
		return emails
	}
	skip := make(map[string]struct{}, len(ignored))
	for _, e := range ignored {
		skip[e] = struct{}{}
	}
	out := emails[:0]
	for _, e := range emails {
		if _, ok := skip[e]; !ok {
			out = append(out, e)
		}
	}
	return out
}

func plausibleEmail(domain, ext string) bool {
	if len(ext) < 2 || digitPattern.MatchString(ext) {
		return false
	}
	if _, media := mediaExtensions[strings.ToLower(ext)]; media {
		return false
	}
	return strings.Count(domain, ".") <= 3
}
