package recipe

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// IndexFile holds the frontmatter and body of a record.
	IndexFile = "index.md"

	fmDelimiter         = "---"
	dateLayout          = "2006-01-02"
	ingredientsHeading  = "## Ingredients"
	instructionsHeading = "## Instructions"

	// maxFrontmatterLines bounds how far ReadTags looks for the closing
	// delimiter.
	maxFrontmatterLines = 256
)

var errNoFrontmatter = errors.New("missing frontmatter")

// Recipe is one stored record.
type Recipe struct {
	Slug         string    `json:"slug"`
	Title        string    `json:"title"`
	Created      time.Time `json:"created"`
	Tags         []string  `json:"tags"`
	Image        string    `json:"image"`
	SourceURL    string    `json:"source_url"`
	Ingredients  []string  `json:"ingredients"`
	Instructions string    `json:"instructions"`
}

type frontmatter struct {
	Title     string   `yaml:"title"`
	Date      string   `yaml:"date"`
	Tags      []string `yaml:"tags"`
	Image     string   `yaml:"image"`
	SourceURL string   `yaml:"source_url"`
}

// Render serializes r as YAML frontmatter followed by the ingredient list and
// the instructions block.
func Render(r Recipe) ([]byte, error) {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	fm, err := yaml.Marshal(frontmatter{
		Title:     r.Title,
		Date:      r.Created.Format(dateLayout),
		Tags:      tags,
		Image:     r.Image,
		SourceURL: r.SourceURL,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal frontmatter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString(fmDelimiter + "\n")
	b.Write(fm)
	b.WriteString(fmDelimiter + "\n")
	b.WriteString(ingredientsHeading + "\n")
	for _, line := range r.Ingredients {
		b.WriteString("- " + line + "\n")
	}
	b.WriteString("\n" + instructionsHeading + "\n")
	b.WriteString(r.Instructions + "\n")
	return b.Bytes(), nil
}

// Parse reads a record back from its index file contents. Slug is left empty.
func Parse(data []byte) (Recipe, error) {
	head, body, err := splitFrontmatter(data)
	if err != nil {
		return Recipe{}, err
	}

	var fm frontmatter
	if err := yaml.Unmarshal(head, &fm); err != nil {
		return Recipe{}, fmt.Errorf("parse frontmatter: %w", err)
	}

	r := Recipe{
		Title:     fm.Title,
		Tags:      NormalizeTags(fm.Tags),
		Image:     fm.Image,
		SourceURL: fm.SourceURL,
	}
	if fm.Date != "" {
		if created, err := time.Parse(dateLayout, fm.Date); err == nil {
			r.Created = created
		}
	}

	text := string(body)
	ingStart := strings.Index(text, ingredientsHeading+"\n")
	instStart := strings.Index(text, instructionsHeading+"\n")
	if ingStart >= 0 && instStart > ingStart {
		block := text[ingStart+len(ingredientsHeading)+1 : instStart]
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
			if line != "" {
				r.Ingredients = append(r.Ingredients, line)
			}
		}
	}
	if instStart >= 0 {
		r.Instructions = strings.TrimSpace(text[instStart+len(instructionsHeading)+1:])
	}
	return r, nil
}

func splitFrontmatter(data []byte) (head, body []byte, err error) {
	rest, ok := bytes.CutPrefix(data, []byte(fmDelimiter+"\n"))
	if !ok {
		return nil, nil, errNoFrontmatter
	}
	if bytes.HasPrefix(rest, []byte(fmDelimiter+"\n")) {
		return nil, rest[len(fmDelimiter)+1:], nil
	}
	marker := []byte("\n" + fmDelimiter + "\n")
	idx := bytes.Index(rest, marker)
	if idx < 0 {
		return nil, nil, errNoFrontmatter
	}
	return rest[:idx+1], rest[idx+len(marker):], nil
}

// ReadTags reads only the frontmatter block from r and returns its normalized
// tags. It gives up after maxFrontmatterLines lines.
func ReadTags(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() || strings.TrimRight(sc.Text(), "\r") != fmDelimiter {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, errNoFrontmatter
	}

	var head bytes.Buffer
	for i := 0; i < maxFrontmatterLines && sc.Scan(); i++ {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == fmDelimiter {
			var fm struct {
				Tags []any `yaml:"tags"`
			}
			if err := yaml.Unmarshal(head.Bytes(), &fm); err != nil {
				return nil, fmt.Errorf("parse frontmatter: %w", err)
			}
			tags := make([]string, 0, len(fm.Tags))
			for _, t := range fm.Tags {
				if t != nil {
					tags = append(tags, fmt.Sprint(t))
				}
			}
			return NormalizeTags(tags), nil
		}
		head.WriteString(line)
		head.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, errNoFrontmatter
}
