package dispatch

// blink flashes the current selection to confirm it was stored. The light
// state's color is left as the final off frame, but the mask and intensity are
// untouched.
func (d *Dispatcher) blink() error {
	for i := 0; i < BlinkCycles; i++ {
		if err := d.show(true); err != nil {
			return err
		}
		d.cfg.Clock.Sleep(d.cfg.BlinkInterval)

		if err := d.show(false); err != nil {
			return err
		}
		d.cfg.Clock.Sleep(d.cfg.BlinkInterval)
	}
	return nil
}
