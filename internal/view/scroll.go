package view

// Scroll is a viewport over a list of lines. Offset is the index of the
// first visible line.
type Scroll struct {
	height int
	total  int
	offset int
}

// NewScroll creates a viewport showing height lines.
func NewScroll(height int) *Scroll {
	if height < 1 {
		height = 1
	}
	return &Scroll{height: height}
}

func (s *Scroll) maxOffset() int {
	return max(s.total-s.height, 0)
}

// Reset replaces the content and jumps to the bottom.
func (s *Scroll) Reset(total int) {
	s.total = total
	s.offset = s.maxOffset()
}

// AtBottom reports whether the newest line is visible.
func (s *Scroll) AtBottom() bool {
	return s.offset >= s.maxOffset()
}

// Prepend adds n lines above the content. The offset moves by n so the
// lines being read stay where they were.
func (s *Scroll) Prepend(n int) {
	if n <= 0 {
		return
	}
	s.total += n
	s.offset += n
}

// Append adds n lines below the content and follows them if the viewport
// was at the bottom. It returns whether it followed.
func (s *Scroll) Append(n int) bool {
	if n <= 0 {
		return s.AtBottom()
	}
	follow := s.AtBottom()
	s.total += n
	if follow {
		s.offset = s.maxOffset()
	}
	return follow
}

// SetTotal sets the content length, keeping the offset in range.
func (s *Scroll) SetTotal(total int) {
	s.total = max(total, 0)
	s.offset = min(s.offset, s.maxOffset())
}

// Up scrolls toward older lines.
func (s *Scroll) Up(n int) {
	s.offset = max(s.offset-n, 0)
}

// Down scrolls toward newer lines.
func (s *Scroll) Down(n int) {
	s.offset = min(s.offset+n, s.maxOffset())
}

// AtTop reports whether the oldest line is visible.
func (s *Scroll) AtTop() bool { return s.offset == 0 }

// Offset returns the index of the first visible line.
func (s *Scroll) Offset() int { return s.offset }

// Visible returns the half-open range of visible line indexes.
func (s *Scroll) Visible() (start, end int) {
	return s.offset, min(s.offset+s.height, s.total)
}
