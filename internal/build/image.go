package build

import (
	"sort"

	"github.com/example/fnstack/internal/stack"
)

// Image is the artifact of one function build. A rebuild yields a new Image.
type Image struct {
	ID       string
	Tag      string
	Function stack.Function
}

// SortImages orders images by function name. Equal names keep their input
// order.
func SortImages(images []Image) {
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Function.Name < images[j].Function.Name
	})
}
