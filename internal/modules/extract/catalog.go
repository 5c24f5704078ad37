package extract

import "sort"

// Clients are the annotation backends extractors call. Nil clients leave
// their extractors out of the catalog.
type Clients struct {
	Vision ImageAnnotator
	Speech SpeechRecognizer
	Video  VideoAnnotator
}

// Catalog indexes the available extractors by Name.
type Catalog map[string]Extractor

func NewCatalog(c Clients) Catalog {
	cat := Catalog{}
	add := func(e Extractor) { cat[e.Name()] = e }
	if c.Vision != nil {
		add(NewFaceExtractor(c.Vision, 0))
		add(NewLabelExtractor(c.Vision, 0))
	}
	if c.Speech != nil {
		add(NewWordExtractor(c.Speech, "", ""))
	}
	if c.Video != nil {
		add(NewShotExtractor(c.Video))
	}
	return cat
}

func (c Catalog) Get(name string) (Extractor, bool) {
	e, ok := c[name]
	return e, ok
}

func (c Catalog) Names() []string {
	out := make([]string, 0, len(c))
	for n := range c {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
