package embedding

import "context"

// Model is a pretrained embedding network. Implementations must be safe for
// concurrent Predict calls; the extractor shares one instance across workers
// and never mutates it.
type Model interface {
	// Config identifies the network and its output size
	Config() ModelConfig

	// Predict maps each one-second frame (FrameLen samples at
	// TargetSampleRate) to an embedding of Config().EmbeddingSize values.
	Predict(ctx context.Context, frames [][]float64) ([][]float64, error)

	// Close releases runtime resources
	Close() error
}

// Loader materialises a Model from its configuration
type Loader interface {
	Load(ctx context.Context, cfg ModelConfig) (Model, error)
}

// ModelSource selects the network for one extraction call. It is either an
// ExplicitModel or a NamedModel.
type ModelSource interface {
	modelSource()
}

// ExplicitModel uses an already loaded model
type ExplicitModel struct {
	Model Model
}

// NamedModel loads (or reuses) the model for Config through the extractor's Loader
type NamedModel struct {
	Config ModelConfig
}

func (ExplicitModel) modelSource() {}
func (NamedModel) modelSource()    {}

// Named is shorthand for a NamedModel source
func Named(repr InputRepr, content ContentType, size EmbeddingSize) NamedModel {
	return NamedModel{Config: ModelConfig{InputRepr: repr, ContentType: content, EmbeddingSize: size}}
}
