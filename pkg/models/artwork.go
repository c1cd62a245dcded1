package models

import "sort"

// ImagePath returns the server path of an item image of the given type.
func ImagePath(itemID, imageType string) string {
	return "/Items/" + itemID + "/Images/" + imageType
}

// ThumbPath returns the best thumbnail for the item, walking from the item's
// own images out to parent, series, album and channel artwork. It returns ""
// when the item has no usable image.
func (it Item) ThumbPath() string {
	if t := it.ownImage("Thumb", "Art", "Primary"); t != "" {
		return ImagePath(it.ID, t)
	}
	if len(it.ScreenshotImageTags) > 0 {
		return ImagePath(it.ID, "Screenshot")
	}

	candidates := []struct {
		ok        bool
		id, image string
	}{
		{it.ParentThumbItemID != "", it.ParentThumbItemID, "Thumb"},
		{it.ParentThumbImageTag != "" && it.ParentID != "", it.ParentID, "Thumb"},
		{it.ParentArtItemID != "", it.ParentArtItemID, "Art"},
		{it.ParentArtImageTag != "" && it.ParentID != "", it.ParentID, "Art"},
		{it.ParentPrimaryImageItemID != "", it.ParentPrimaryImageItemID, "Primary"},
		{it.ParentPrimaryImageTag != "" && it.ParentID != "", it.ParentID, "Primary"},
		{it.ParentBackdropItemID != "", it.ParentBackdropItemID, "Backdrop"},
		{len(it.ParentBackdropImageTags) > 0 && it.ParentID != "", it.ParentID, "Backdrop"},
		{it.ParentLogoItemID != "", it.ParentLogoItemID, "Logo"},
		{it.ParentLogoImageTag != "" && it.ParentID != "", it.ParentID, "Logo"},
		{it.SeriesThumbImageTag != "" && it.SeriesID != "", it.SeriesID, "Thumb"},
		{it.SeriesPrimaryImageTag != "" && it.SeriesID != "", it.SeriesID, "Primary"},
		{it.AlbumPrimaryImageTag != "" && it.AlbumID != "", it.AlbumID, "Primary"},
		{it.ChannelPrimaryImageTag != "" && it.ChannelID != "", it.ChannelID, "Primary"},
	}
	for _, c := range candidates {
		if c.ok {
			return ImagePath(c.id, c.image)
		}
	}
	return ""
}

// BackdropPath returns the best wide image for the item, or "".
func (it Item) BackdropPath() string {
	if len(it.BackdropImageTags) > 0 {
		return ImagePath(it.ID, "Backdrop")
	}
	if t := it.ownImage("Backdrop", "Primary"); t != "" {
		return ImagePath(it.ID, t)
	}
	if it.ParentBackdropItemID != "" {
		return ImagePath(it.ParentBackdropItemID, "Backdrop")
	}
	if len(it.ParentBackdropImageTags) > 0 && it.ParentID != "" {
		return ImagePath(it.ParentID, "Backdrop")
	}
	return ""
}

// ownImage picks the first preferred image type present in ImageTags, or the
// alphabetically first type when none of the preferred ones exist.
func (it Item) ownImage(preferred ...string) string {
	if len(it.ImageTags) == 0 {
		return ""
	}
	for _, p := range preferred {
		if _, ok := it.ImageTags[p]; ok {
			return p
		}
	}
	types := make([]string, 0, len(it.ImageTags))
	for t := range it.ImageTags {
		types = append(types, t)
	}
	sort.Strings(types)
	return types[0]
}
