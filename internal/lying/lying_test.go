package lying_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/omnode/omnode/internal/lying"
)

func TestChooseTruthfulAtZeroPercent(t *testing.T) {
	p := lying.NewPolicy()
	for i := 0; i < 50; i++ {
		assert.Equal(t, "sky", p.Choose("sky"))
	}
}

func TestChooseAlwaysLiesAt100Percent(t *testing.T) {
	p := lying.NewPolicy()
	p.SetPercent(100)
	for i := 0; i < 50; i++ {
		assert.Equal(t, "!ky", p.Choose("sky"))
	}
}

func TestSetPercentClamps(t *testing.T) {
	p := lying.NewPolicy()
	p.SetPercent(500)
	assert.Equal(t, 100, p.Percent())
	p.SetPercent(-5)
	assert.Equal(t, 0, p.Percent())
}

func TestChooseEmptyValueUnchanged(t *testing.T) {
	p := lying.NewPolicy()
	p.SetPercent(100)
	assert.Equal(t, "", p.Choose(""))
}
