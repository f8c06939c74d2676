// Copyright 2025 James Ross
package storeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// FetchProduct reads a product's title/description plus both the native
// seo{} field and the global title_tag/description_tag metafields.
func (c *Client) FetchProduct(ctx context.Context, id string, onAttempt generatorAttemptFunc, onRetry generatorRetryFunc, onThrottle ThrottleFunc) (Product, error) {
	id = normalizeGID("Product", id)
	const query = `query($id: ID!) {
		product(id: $id) {
			id title description
			seo { title description }
			titleTag: metafield(namespace: "global", key: "title_tag") { value }
			descriptionTag: metafield(namespace: "global", key: "description_tag") { value }
		}
	}`
	data, err := c.graphqlWithRetry(ctx, query, map[string]any{"id": id}, onAttempt, onRetry, onThrottle)
	if err != nil {
		return Product{}, err
	}

	var payload struct {
		Product struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Seo         struct {
				Title       string `json:"title"`
				Description string `json:"description"`
			} `json:"seo"`
			TitleTag       *struct{ Value string `json:"value"` } `json:"titleTag"`
			DescriptionTag *struct{ Value string `json:"value"` } `json:"descriptionTag"`
		} `json:"product"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return Product{}, fmt.Errorf("storeapi: unmarshal product: %w", err)
	}

	p := Product{
		ID: payload.Product.ID, Title: payload.Product.Title, Description: payload.Product.Description,
		NativeSeo: SeoFields{Title: payload.Product.Seo.Title, Description: payload.Product.Seo.Description},
	}
	if payload.Product.TitleTag != nil {
		p.MetaSeo.Title = payload.Product.TitleTag.Value
	}
	if payload.Product.DescriptionTag != nil {
		p.MetaSeo.Description = payload.Product.DescriptionTag.Value
	}
	return p, nil
}

// FetchArticle reads an article's title/body plus its metafield SEO pair
// — articles have no native seo{} field.
func (c *Client) FetchArticle(ctx context.Context, id string, onAttempt generatorAttemptFunc, onRetry generatorRetryFunc, onThrottle ThrottleFunc) (Article, error) {
	id = normalizeGID("Article", id)
	const query = `query($id: ID!) {
		article(id: $id) {
			id title body
			titleTag: metafield(namespace: "global", key: "title_tag") { value }
			descriptionTag: metafield(namespace: "global", key: "description_tag") { value }
		}
	}`
	data, err := c.graphqlWithRetry(ctx, query, map[string]any{"id": id}, onAttempt, onRetry, onThrottle)
	if err != nil {
		return Article{}, err
	}

	var payload struct {
		Article struct {
			ID             string                        `json:"id"`
			Title          string                        `json:"title"`
			Body           string                        `json:"body"`
			TitleTag       *struct{ Value string `json:"value"` } `json:"titleTag"`
			DescriptionTag *struct{ Value string `json:"value"` } `json:"descriptionTag"`
		} `json:"article"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return Article{}, fmt.Errorf("storeapi: unmarshal article: %w", err)
	}

	a := Article{ID: payload.Article.ID, Title: payload.Article.Title, Body: payload.Article.Body}
	if payload.Article.TitleTag != nil {
		a.MetaSeo.Title = payload.Article.TitleTag.Value
	}
	if payload.Article.DescriptionTag != nil {
		a.MetaSeo.Description = payload.Article.DescriptionTag.Value
	}
	return a, nil
}

// FetchImages returns the given product's media images (the first 250
// media nodes) eligible for alt-text generation.
func (c *Client) FetchImages(ctx context.Context, productID string, onAttempt generatorAttemptFunc, onRetry generatorRetryFunc, onThrottle ThrottleFunc) ([]Image, error) {
	productID = normalizeGID("Product", productID)
	const query = `query($id: ID!) {
		product(id: $id) {
			media(first: 250) {
				nodes { id ... on MediaImage { image { url altText } } }
			}
		}
	}`
	data, err := c.graphqlWithRetry(ctx, query, map[string]any{"id": productID}, onAttempt, onRetry, onThrottle)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Product struct {
			Media struct {
				Nodes []struct {
					ID    string `json:"id"`
					Image *struct {
						URL     string `json:"url"`
						AltText string `json:"altText"`
					} `json:"image"`
				} `json:"nodes"`
			} `json:"media"`
		} `json:"product"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("storeapi: unmarshal images: %w", err)
	}

	images := make([]Image, 0, len(payload.Product.Media.Nodes))
	for _, n := range payload.Product.Media.Nodes {
		if n.Image == nil {
			continue
		}
		images = append(images, Image{ID: n.ID, ProductID: productID, MediaID: n.ID, URL: n.Image.URL, Alt: n.Image.AltText})
	}
	return images, nil
}

// FetchProductSeoBatch/FetchArticleSeoBatch fan a batch of reads through
// FetchProduct/FetchArticle — the StoreAPI fake's GraphQL contract has no
// bulk node(ids:) shortcut worth special-casing at this scale.
func (c *Client) FetchProductSeoBatch(ctx context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		p, err := c.FetchProduct(ctx, id, nil, nil, nil)
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

func (c *Client) FetchArticleSeoBatch(ctx context.Context, ids []string) (map[string]Article, error) {
	out := make(map[string]Article, len(ids))
	for _, id := range ids {
		a, err := c.FetchArticle(ctx, id, nil, nil, nil)
		if err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, nil
}

// resolveWrite applies the backfill rule from spec §4.7 step 3: if only
// one side is being written but the job is configured to also produce
// the other, and that other metafield is empty while a live native
// counterpart exists, carry the native value forward so it stays visible
// once Shopify starts reading from metafields.
func resolveWrite(fields WriteFields, current Product) (title string, writeTitle bool, description string, writeDescription bool) {
	writeTitle = fields.WriteTitle && !isBlank(fields.Title)
	writeDescription = fields.WriteDescription && !isBlank(fields.Description)
	title, description = fields.Title, fields.Description

	if writeTitle && !writeDescription && fields.WriteDescription {
		if isBlank(current.MetaSeo.Description) && !isBlank(current.NativeSeo.Description) {
			description = current.NativeSeo.Description
			writeDescription = true
		}
	}
	if writeDescription && !writeTitle && fields.WriteTitle {
		if isBlank(current.MetaSeo.Title) && !isBlank(current.NativeSeo.Title) {
			title = current.NativeSeo.Title
			writeTitle = true
		}
	}
	return title, writeTitle, description, writeDescription
}

// WriteProductSeo writes via metafieldsSet (never the native seo{} field,
// to avoid clobbering it), applying the backfill rule above. Never writes
// an empty string, which would clear an existing value.
func (c *Client) WriteProductSeo(ctx context.Context, productID string, fields WriteFields, onAttempt generatorAttemptFunc, onRetry generatorRetryFunc, onThrottle ThrottleFunc) error {
	productID = normalizeGID("Product", productID)
	current, err := c.FetchProduct(ctx, productID, nil, nil, nil)
	if err != nil {
		return err
	}

	title, writeTitle, description, writeDescription := resolveWrite(fields, current)
	metafields := buildSeoMetafields(productID, title, writeTitle, description, writeDescription)
	if len(metafields) == 0 {
		return nil
	}

	const mutation = `mutation($metafields: [MetafieldsSetInput!]!) {
		metafieldsSet(metafields: $metafields) { userErrors { message } }
	}`
	_, err = c.graphqlWithRetry(ctx, mutation, map[string]any{"metafields": metafields}, onAttempt, onRetry, onThrottle)
	return err
}

// WriteArticleSeo mirrors WriteProductSeo but resolves the article's
// ownerId through the canonical Article GID form; per spec §9's open
// question on GID forms, it never guesses an alternate typename (e.g. an
// "OnlineStoreArticle" counterpart) — if the server rejects the id with
// "Invalid id" it preflights the normalized id via a node(id:) probe and
// retries the mutation once that confirms the id resolves to something.
// Articles carry no native seo{} field, so the backfill rule never fires.
func (c *Client) WriteArticleSeo(ctx context.Context, articleID string, fields WriteFields, onAttempt generatorAttemptFunc, onRetry generatorRetryFunc, onThrottle ThrottleFunc) error {
	articleID = normalizeGID("Article", articleID)
	writeTitle := fields.WriteTitle && !isBlank(fields.Title)
	writeDescription := fields.WriteDescription && !isBlank(fields.Description)
	metafields := buildSeoMetafields(articleID, fields.Title, writeTitle, fields.Description, writeDescription)
	if len(metafields) == 0 {
		return nil
	}

	const mutation = `mutation($metafields: [MetafieldsSetInput!]!) {
		metafieldsSet(metafields: $metafields) { userErrors { message } }
	}`
	vars := map[string]any{"metafields": metafields}
	_, err := c.graphqlWithRetry(ctx, mutation, vars, onAttempt, onRetry, onThrottle)
	if err != nil && strings.Contains(err.Error(), "Invalid id") {
		if preflightErr := c.preflightNode(ctx, articleID, onAttempt, onRetry, onThrottle); preflightErr == nil {
			_, err = c.graphqlWithRetry(ctx, mutation, vars, onAttempt, onRetry, onThrottle)
		}
	}
	return err
}

// preflightNode probes whether id resolves to any node at all, the
// narrower check spec §9 prefers over guessing an alternate GID typename.
func (c *Client) preflightNode(ctx context.Context, id string, onAttempt generatorAttemptFunc, onRetry generatorRetryFunc, onThrottle ThrottleFunc) error {
	const query = `query($id: ID!) { node(id: $id) { id } }`
	data, err := c.graphqlWithRetry(ctx, query, map[string]any{"id": id}, onAttempt, onRetry, onThrottle)
	if err != nil {
		return err
	}
	var payload struct {
		Node *struct {
			ID string `json:"id"`
		} `json:"node"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("storeapi: unmarshal node preflight: %w", err)
	}
	if payload.Node == nil {
		return fmt.Errorf("storeapi: node %q does not resolve", id)
	}
	return nil
}

// CurrentSeo returns the live SEO text visible for a target right now, used
// by the publish-selection "apply only changed" prune (spec §4.10/§9): a
// product/article is compared on its effective (meta-over-native) title and
// description, an image on its live alt text passed back as description.
// kind matches the job item's TargetType string ("Product", "Article",
// "Image"); parentID is the owning product id for an Image target.
func (c *Client) CurrentSeo(ctx context.Context, kind, id, parentID string) (title, description string, err error) {
	switch kind {
	case "Product":
		p, err := c.FetchProduct(ctx, id, nil, nil, nil)
		if err != nil {
			return "", "", err
		}
		title, description = p.MetaSeo.Title, p.MetaSeo.Description
		if isBlank(title) {
			title = p.NativeSeo.Title
		}
		if isBlank(description) {
			description = p.NativeSeo.Description
		}
		return title, description, nil
	case "Article":
		a, err := c.FetchArticle(ctx, id, nil, nil, nil)
		if err != nil {
			return "", "", err
		}
		return a.MetaSeo.Title, a.MetaSeo.Description, nil
	case "Image":
		images, err := c.FetchImages(ctx, parentID, nil, nil, nil)
		if err != nil {
			return "", "", err
		}
		want := numericSuffix(id)
		for _, img := range images {
			if numericSuffix(img.ID) == want {
				return "", img.Alt, nil
			}
		}
		return "", "", fmt.Errorf("storeapi: image %q not found under product %q", id, parentID)
	default:
		return "", "", fmt.Errorf("storeapi: unknown target kind %q", kind)
	}
}

func buildSeoMetafields(ownerID, title string, writeTitle bool, description string, writeDescription bool) []map[string]any {
	var metafields []map[string]any
	if writeTitle {
		metafields = append(metafields, map[string]any{
			"ownerId": ownerID, "namespace": "global", "key": "title_tag", "type": "single_line_text_field", "value": title,
		})
	}
	if writeDescription {
		metafields = append(metafields, map[string]any{
			"ownerId": ownerID, "namespace": "global", "key": "description_tag", "type": "single_line_text_field", "value": description,
		})
	}
	return metafields
}

// WriteImageAlt sets a single image's alt text.
func (c *Client) WriteImageAlt(ctx context.Context, productID, mediaID, alt string, onAttempt generatorAttemptFunc, onRetry generatorRetryFunc, onThrottle ThrottleFunc) error {
	productID = normalizeGID("Product", productID)
	mediaID = normalizeGID("MediaImage", mediaID)
	const mutation = `mutation($productId: ID!, $media: [UpdateMediaInput!]!) {
		productUpdateMedia(productId: $productId, media: $media) { userErrors { message } }
	}`
	vars := map[string]any{
		"productId": productID,
		"media": []map[string]any{
			{"id": mediaID, "alt": alt},
		},
	}
	_, err := c.graphqlWithRetry(ctx, mutation, vars, onAttempt, onRetry, onThrottle)
	return err
}
