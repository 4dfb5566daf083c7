package model

// Envelope is the stage-agnostic artifact shape shared by all four stages.
type Envelope[P any] struct {
	RestaurantName string `json:"restaurant_name"`
	Pages          []P    `json:"pages"`
}

// CategoriesPage is one page of the stage-1 artifact.
type CategoriesPage struct {
	PageNumber int        `json:"page_number"`
	Data       Categories `json:"data"`
}

// CategoryPage is one page of a stage 2-4 artifact: the units produced for
// each category on that page, in stage-1 order.
type CategoryPage[U any] struct {
	PageNumber int `json:"page_number"`
	Categories []U `json:"categories"`
}

type (
	CategoriesArtifact = Envelope[CategoriesPage]
	ItemsArtifact      = Envelope[CategoryPage[CategoryWithItems]]
	BasesArtifact      = Envelope[CategoryPage[CategoryBase]]
	AddonsArtifact     = Envelope[CategoryPage[CategoryItemAddons]]
)

// PageNumbered is implemented by every artifact page type.
type PageNumbered interface {
	Number() int
}

func (p CategoriesPage) Number() int  { return p.PageNumber }
func (p CategoryPage[U]) Number() int { return p.PageNumber }

// PageImage is a rasterized page. PNG is opaque to the pipeline.
type PageImage struct {
	PageNumber int    `json:"page_number"`
	PNG        []byte `json:"-"`
}
