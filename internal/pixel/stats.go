package pixel

import "image"

// Analysis counts pixels by alpha class.
type Analysis struct {
	Width       int `json:"width"`
	Height      int `json:"height"`
	Transparent int `json:"transparent"`
	Partial     int `json:"partial"`
	Opaque      int `json:"opaque"`
}

func Stats(img image.Image) Analysis {
	b := img.Bounds()
	out := Analysis{Width: b.Dx(), Height: b.Dy()}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			switch {
			case a == 0:
				out.Transparent++
			case a == 0xffff:
				out.Opaque++
			default:
				out.Partial++
			}
		}
	}
	return out
}

// StatsOf decodes data and returns its Analysis.
func StatsOf(data []byte) (Analysis, error) {
	img, err := decode(data)
	if err != nil {
		return Analysis{}, err
	}
	return Stats(img), nil
}
