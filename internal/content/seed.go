package content

import "sort"

// Seed records shown while a collection has no stored documents.
var (
	seedProjects = []Project{
		{
			ID:          "1700000000003",
			Title:       "Studio Website",
			Category:    "Web",
			Description: "Responsive portfolio site with a self-hosted admin for projects and client quotes.",
			Link:        "https://example.com/projects/studio",
			Tags:        []string{"web", "cms"},
			CreatedAt:   1700000000003,
		},
		{
			ID:          "1700000000002",
			Title:       "Brand Refresh",
			Category:    "Design",
			Description: "Identity system and component library for a product launch.",
			Tags:        []string{"design"},
			CreatedAt:   1700000000002,
		},
		{
			ID:          "1700000000001",
			Title:       "Launch Film",
			Category:    "Video",
			Description: "Short product film cut for social channels.",
			Tags:        []string{"video"},
			CreatedAt:   1700000000001,
		},
	}

	seedTools = []Tool{
		{ID: "1700000000102", Name: "Go", Description: "Services and tooling.", Link: "https://go.dev", CreatedAt: 1700000000102},
		{ID: "1700000000101", Name: "Figma", Description: "Interface design.", Link: "https://figma.com", CreatedAt: 1700000000101},
	}

	seedTestimonials = []Testimonial{
		{
			ID:        "1700000000201",
			Author:    "Alex Rivera",
			Role:      "Product Lead",
			Quote:     "Shipped on time and raised the bar for the whole team.",
			CreatedAt: 1700000000201,
		},
	}

	seedFAQs = []FAQ{
		{ID: "1700000000302", Question: "Are you available for freelance work?", Answer: "Yes, get in touch through the contact form.", CreatedAt: 1700000000302},
		{ID: "1700000000301", Question: "Which time zones do you work in?", Answer: "Overlap with Europe and the Americas.", CreatedAt: 1700000000301},
	}

	defaultIdentity = SiteIdentity{
		Name:    "Your Name",
		Title:   "Designer & Developer",
		Tagline: "Building thoughtful products.",
		Socials: map[string]string{},
	}
)

// SeedDocuments returns the built-in dataset for collection, newest first.
func SeedDocuments(collection string) []Document {
	var records []Record
	switch collection {
	case CollectionProjects:
		for _, record := range seedProjects {
			records = append(records, record)
		}
	case CollectionTools:
		for _, record := range seedTools {
			records = append(records, record)
		}
	case CollectionTestimonials:
		for _, record := range seedTestimonials {
			records = append(records, record)
		}
	case CollectionFAQs:
		for _, record := range seedFAQs {
			records = append(records, record)
		}
	}

	documents := make([]Document, 0, len(records))
	for _, record := range records {
		document, err := NewDocument(record)
		if err != nil {
			continue
		}
		documents = append(documents, document)
	}
	SortDocuments(documents)
	return documents
}

// DefaultIdentity is shown until an identity has been saved.
func DefaultIdentity() SiteIdentity {
	identity := defaultIdentity
	identity.Socials = map[string]string{}
	return identity
}

// SortDocuments orders documents newest first by CreatedAt, breaking ties by id descending.
func SortDocuments(documents []Document) {
	sort.SliceStable(documents, func(i, j int) bool {
		if documents[i].CreatedAt != documents[j].CreatedAt {
			return documents[i].CreatedAt > documents[j].CreatedAt
		}
		return documents[i].ID > documents[j].ID
	})
}
