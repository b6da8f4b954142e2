package geoindex

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
)

const zctaShapefileURL = "https://www2.census.gov/geo/tiger/TIGER2024/ZCTA520/tl_2024_us_zcta520.zip"

const upsertBatchSize = 500

// DemographicsSink is the slice of the store the loader writes.
type DemographicsSink interface {
	UpsertDemographics(ctx context.Context, rows []model.Demographics) (int, error)
}

// placeInfo carries the per-ZCTA attributes the shapefile lacks.
type placeInfo struct {
	city       string
	state      string
	population int
}

// ImportZCTA downloads the Census ZCTA shapefile, merges city, state, and
// population from the gazetteer CSV, and upserts one demographics row per
// postal code. Density is population over the shapefile's land area.
func ImportZCTA(ctx context.Context, sink DemographicsSink, httpClient *http.Client, tempDir, gazetteerPath string) (int, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	log := zap.L().With(zap.String("component", "geoindex.loader"))

	places, err := loadGazetteer(gazetteerPath)
	if err != nil {
		return 0, eris.Wrap(err, "geoindex: load gazetteer")
	}

	zipPath := filepath.Join(tempDir, "tl_2024_us_zcta520.zip")
	log.Info("downloading ZCTA shapefile", zap.String("url", zctaShapefileURL))
	if err := downloadFile(ctx, httpClient, zctaShapefileURL, zipPath); err != nil {
		return 0, eris.Wrap(err, "geoindex: download ZCTA shapefile")
	}

	extractDir := filepath.Join(tempDir, "zcta")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return 0, eris.Wrap(err, "geoindex: create extract dir")
	}
	if err := extractZIP(zipPath, extractDir); err != nil {
		return 0, eris.Wrap(err, "geoindex: extract ZCTA ZIP")
	}

	shpPath, err := findFileByExt(extractDir, ".shp")
	if err != nil {
		return 0, eris.Wrap(err, "geoindex: find .shp file")
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return 0, eris.Wrap(err, "geoindex: open shapefile")
	}
	defer func() { _ = reader.Close() }()

	zctaIdx := fieldIndex(reader, "ZCTA5CE20")
	landIdx := fieldIndex(reader, "ALAND20")
	if zctaIdx < 0 || landIdx < 0 {
		return 0, eris.New("geoindex: required shapefile fields (ZCTA5CE20, ALAND20) not found")
	}

	var batch []model.Demographics
	var loaded int
	for reader.Next() {
		if ctx.Err() != nil {
			return loaded, eris.Wrap(ctx.Err(), "geoindex: import cancelled")
		}

		_, shape := reader.Shape()
		postal := strings.TrimSpace(reader.Attribute(zctaIdx))
		if postal == "" {
			continue
		}

		landM2, _ := strconv.ParseFloat(strings.TrimSpace(reader.Attribute(landIdx)), 64)

		row := model.Demographics{PostalCode: postal}
		if info, ok := places[postal]; ok {
			row.City = info.city
			row.State = info.state
			row.Population = info.population
		}
		if landM2 > 0 {
			row.Density = float64(row.Population) / (landM2 / 1e6)
		}
		if lon, lat, ok := shapeCentroid(shape); ok {
			row.Longitude = lon
			row.Latitude = lat
		}

		batch = append(batch, row)
		if len(batch) >= upsertBatchSize {
			n, err := sink.UpsertDemographics(ctx, batch)
			if err != nil {
				return loaded, eris.Wrap(err, "geoindex: upsert batch")
			}
			loaded += n
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		n, err := sink.UpsertDemographics(ctx, batch)
		if err != nil {
			return loaded, eris.Wrap(err, "geoindex: upsert final batch")
		}
		loaded += n
	}

	log.Info("ZCTA demographics loaded", zap.Int("records", loaded))
	return loaded, nil
}

// loadGazetteer reads a CSV with header zcta,city,state,population.
func loadGazetteer(path string) (map[string]placeInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrap(err, "read header")
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"zcta", "city", "state", "population"} {
		if _, ok := col[required]; !ok {
			return nil, eris.Errorf("gazetteer missing column %q", required)
		}
	}

	places := make(map[string]placeInfo)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "read record")
		}
		zcta := strings.TrimSpace(rec[col["zcta"]])
		if zcta == "" {
			continue
		}
		pop, _ := strconv.Atoi(strings.TrimSpace(rec[col["population"]]))
		places[zcta] = placeInfo{
			city:       strings.TrimSpace(rec[col["city"]]),
			state:      strings.ToUpper(strings.TrimSpace(rec[col["state"]])),
			population: pop,
		}
	}
	return places, nil
}

// shapeCentroid computes the centroid of a shapefile polygon.
func shapeCentroid(s shp.Shape) (lon, lat float64, ok bool) {
	p, isPolygon := s.(*shp.Polygon)
	if !isPolygon || p.NumParts == 0 || len(p.Points) == 0 {
		return 0, 0, false
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			continue
		}
		if err := mp.Push(poly); err != nil {
			continue
		}
	}
	if mp.NumPolygons() == 0 {
		return 0, 0, false
	}

	c := xy.MultiPolygonCentroid(mp)
	return c[0], c[1], true
}

// downloadFile downloads a URL to a local file.
func downloadFile(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "build request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return eris.Wrap(err, "download")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("download returned status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return eris.Wrap(err, "create file")
	}
	defer f.Close() //nolint:errcheck

	if _, err := io.Copy(f, resp.Body); err != nil {
		return eris.Wrap(err, "write file")
	}

	return nil
}

// extractZIP extracts a ZIP archive to the destination directory.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		destPath := filepath.Join(destDir, filepath.Base(f.Name))

		rc, err := f.Open()
		if err != nil {
			return eris.Wrapf(err, "open zip entry %s", f.Name)
		}

		outFile, err := os.Create(destPath)
		if err != nil {
			_ = rc.Close()
			return eris.Wrapf(err, "create %s", destPath)
		}

		if _, err := io.Copy(outFile, rc); err != nil {
			_ = outFile.Close()
			_ = rc.Close()
			return eris.Wrapf(err, "extract %s", f.Name)
		}
		_ = outFile.Close()
		_ = rc.Close()
	}

	return nil
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}

// fieldIndex returns the index of a named field in the shapefile, or -1.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}
