/*
Package template renders per-datastore base configuration documents and
patches the handful of keys cluster workflows care about.

Templates are looked up by datastore manager as "<manager>.config.template",
first in an optional override directory and then in the set embedded in the
binary. They are executed with text/template and parsed as YAML into a
Document:

	r, err := template.NewFileRenderer(settings.Cassandra.TemplateDir)
	doc, err := r.Render("cassandra", template.NewVars(cluster.Name, nodeID, nil))
	doc.SetClusterName(cluster.Name)
	if err := doc.SetSeeds([]string{"10.0.0.1"}); err != nil {
		return err
	}
	data, err := doc.Marshal()
*/
package template
