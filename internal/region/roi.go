package region

import (
	"math"
)

// Region names of the fixed check layout
const (
	TopSection        = "top_section"
	PayeeRegion       = "payee_region"
	AmountRegion      = "amount_region"
	DateRegion        = "date_region"
	CheckNumberRegion = "check_number_region"
	MICRRegion        = "micr_region"
	SignatureRegion   = "signature_region"
	TopThird          = "top_third"
	MiddleThird       = "middle_third"
	BottomThird       = "bottom_third"
)

// ROI is a named rectangle in pixel coordinates
type ROI struct {
	Name   string `json:"name"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Spec places a region as fractions of the image width and height
type Spec struct {
	Name   string  `yaml:"name"`
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// Layout is the catalogue of regions for a check
type Layout struct {
	Regions []Spec `yaml:"regions"`
}

// DefaultLayout covers a US personal/business check
func DefaultLayout() Layout {
	return Layout{Regions: []Spec{
		{Name: TopSection, X: 0, Y: 0, Width: 1, Height: 0.25},
		{Name: PayeeRegion, X: 0.05, Y: 0.25, Width: 0.55, Height: 0.15},
		{Name: AmountRegion, X: 0.65, Y: 0.25, Width: 0.30, Height: 0.15},
		{Name: DateRegion, X: 0.60, Y: 0.10, Width: 0.35, Height: 0.12},
		{Name: CheckNumberRegion, X: 0.80, Y: 0, Width: 0.20, Height: 0.10},
		{Name: MICRRegion, X: 0, Y: 0.88, Width: 1, Height: 0.12},
		{Name: SignatureRegion, X: 0.55, Y: 0.65, Width: 0.40, Height: 0.20},
		{Name: TopThird, X: 0, Y: 0, Width: 1, Height: 1.0 / 3},
		{Name: MiddleThird, X: 0, Y: 1.0 / 3, Width: 1, Height: 1.0 / 3},
		{Name: BottomThird, X: 0, Y: 2.0 / 3, Width: 1, Height: 1.0 / 3},
	}}
}

// DefineRegions converts the layout into pixel ROIs for an image of the
// given size. Offsets and extents are floored; the result depends only on
// the dimensions.
func (l Layout) DefineRegions(imageWidth, imageHeight int) []ROI {
	rois := make([]ROI, 0, len(l.Regions))
	for _, s := range l.Regions {
		rois = append(rois, ROI{
			Name:   s.Name,
			X:      scale(s.X, imageWidth),
			Y:      scale(s.Y, imageHeight),
			Width:  scale(s.Width, imageWidth),
			Height: scale(s.Height, imageHeight),
		})
	}
	return rois
}

// Lookup returns the ROI with the given name
func Lookup(rois []ROI, name string) (ROI, bool) {
	for _, r := range rois {
		if r.Name == name {
			return r, true
		}
	}
	return ROI{}, false
}

// scale floors frac*dim. The epsilon absorbs binary representation error
// so 0.12*400 yields 48 rather than 47.
func scale(frac float64, dim int) int {
	v := int(math.Floor(frac*float64(dim) + 1e-9))
	if v < 0 {
		return 0
	}
	return v
}
