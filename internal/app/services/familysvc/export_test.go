package familysvc

// SetCodeSource replaces the invite code generator.
func (s *Service) SetCodeSource(f func() (string, error)) { s.codes = f }
