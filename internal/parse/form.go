package parse

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nao1215/crawlcache/internal/model"
)

// Form is an HTML form with the values a browser would submit untouched.
type Form struct {
	// Action is the absolute submission URL.
	Action string

	// Method is GET or POST.
	Method string

	// Data holds named field values.
	Data url.Values
}

// Forms returns every form on the page.
func (d *Document) Forms() []Form {
	var forms []Form
	d.doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		forms = append(forms, d.newForm(s))
	})
	return forms
}

// FormBySelector returns the first form matching selector.
func (d *Document) FormBySelector(selector string) (Form, bool) {
	sel := d.doc.Find(selector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return goquery.NodeName(s) == "form"
	}).First()
	if sel.Length() == 0 {
		return Form{}, false
	}
	return d.newForm(sel), true
}

func (d *Document) newForm(s *goquery.Selection) Form {
	action, _ := s.Attr("action")
	resolved, err := d.Resolve(action)
	if err != nil {
		resolved = d.Base()
	}
	method := strings.ToUpper(strings.TrimSpace(s.AttrOr("method", http.MethodGet)))
	if method != http.MethodPost {
		method = http.MethodGet
	}

	data := url.Values{}
	s.Find("input").Each(func(_ int, in *goquery.Selection) {
		name := in.AttrOr("name", "")
		if name == "" {
			return
		}
		switch strings.ToLower(in.AttrOr("type", "text")) {
		case "submit", "button", "image", "reset", "file":
			return
		case "checkbox", "radio":
			if _, checked := in.Attr("checked"); !checked {
				return
			}
			data.Add(name, in.AttrOr("value", "on"))
			return
		}
		data.Add(name, in.AttrOr("value", ""))
	})
	s.Find("textarea").Each(func(_ int, ta *goquery.Selection) {
		if name := ta.AttrOr("name", ""); name != "" {
			data.Set(name, ta.Text())
		}
	})
	s.Find("select").Each(func(_ int, sel *goquery.Selection) {
		name := sel.AttrOr("name", "")
		if name == "" {
			return
		}
		opt := sel.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = sel.Find("option").First()
		}
		if opt.Length() == 0 {
			return
		}
		data.Set(name, opt.AttrOr("value", strings.TrimSpace(opt.Text())))
	})

	return Form{Action: resolved, Method: method, Data: data}
}

// Set replaces the value of a field.
func (f *Form) Set(name, value string) {
	if f.Data == nil {
		f.Data = url.Values{}
	}
	f.Data.Set(name, value)
}

// Request builds the request that submits the form. POST forms carry the
// encoded data in the body; GET forms carry it in the query string.
func (f Form) Request() model.Request {
	if f.Method == http.MethodPost {
		return model.NewFormRequest(f.Action, f.Data)
	}
	u, err := url.Parse(f.Action)
	if err != nil {
		return model.NewRequest(f.Action)
	}
	u.RawQuery = f.Data.Encode()
	return model.NewRequest(u.String())
}
