package led

// Render computes the frame to transmit. When on is true, every channel whose
// bit is set in the mask gets the intensity and the others are zero. When on
// is false, the frame is all zero regardless of the mask.
func Render(s State, on bool) Color {
	if !on {
		return Off
	}

	var c Color
	v := uint8(s.Intensity)
	if s.Mask.Has(MaskGreen) {
		c.G = v
	}
	if s.Mask.Has(MaskRed) {
		c.R = v
	}
	if s.Mask.Has(MaskBlue) {
		c.B = v
	}
	return c
}
